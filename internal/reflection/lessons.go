package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/pablof7z/tenex-sub009/internal/llm"
)

// Generator produces candidate lessons for a trigger and collapses lessons
// describing the same underlying issue. Deduplicate must be idempotent:
// running it twice on a non-duplicate set returns the same set.
type Generator interface {
	Generate(ctx context.Context, trigger Trigger, agents []Agent) ([]Lesson, error)
	Deduplicate(ctx context.Context, lessons []Lesson) ([]Lesson, error)
}

// LocalDedup collapses lessons sharing (agent id, normalized description),
// keeping the first occurrence. It is deterministic and idempotent, and is
// applied before any semantic pass so a misbehaving model can only merge
// further, never reorder or fabricate.
func LocalDedup(lessons []Lesson) []Lesson {
	seen := make(map[string]struct{}, len(lessons))
	out := make([]Lesson, 0, len(lessons))
	for _, l := range lessons {
		key := l.AgentID + "\x00" + normalize(l.Description)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, l)
	}
	return out
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// LLMGenerator implements Generator on a completion client.
type LLMGenerator struct {
	Client llm.Client
}

const generatorSystem = "You distill lessons from a detected correction in a multi-agent conversation. " +
	"For each implicated agent produce at most one lesson. Respond with only a JSON array of objects: " +
	`[{"agent_id": "...", "type": "mistake|success|discovery|optimization", "description": "...", "context": "...", "impact": "high|medium|low", "tags": ["..."]}]` +
	" Return [] when there is nothing durable to learn."

func (g *LLMGenerator) Generate(ctx context.Context, trigger Trigger, agents []Agent) ([]Lesson, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Trigger: %s\nReason: %s\n", trigger.Type, trigger.Reason)
	if issues, ok := trigger.Metadata["issues"].([]string); ok && len(issues) > 0 {
		fmt.Fprintf(&b, "Detected issues: %s\n", strings.Join(issues, "; "))
	}
	b.WriteString("Agents:\n")
	for _, a := range agents {
		fmt.Fprintf(&b, "- %s (%s)\n", a.Name, a.ID)
	}

	raw, err := g.Client.Complete(ctx, llm.Request{System: generatorSystem, User: b.String()})
	if err != nil {
		return nil, fmt.Errorf("generate lessons: %w", err)
	}
	var parsed []Lesson
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("parse lessons %q: %w", raw, err)
	}

	names := make(map[string]string, len(agents))
	for _, a := range agents {
		names[a.ID] = a.Name
	}
	out := parsed[:0]
	for _, l := range parsed {
		if l.Description == "" || l.AgentID == "" {
			slog.Warn("dropping incomplete lesson", "agent_id", l.AgentID)
			continue
		}
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		if l.AgentName == "" {
			l.AgentName = names[l.AgentID]
		}
		if l.Type == "" {
			l.Type = LessonMistake
		}
		if l.Impact == "" {
			l.Impact = ImpactMedium
		}
		out = append(out, l)
	}
	return out, nil
}

// Deduplicate applies the local pass, then asks the model to merge semantic
// duplicates the local pass cannot see. The model may only keep existing
// lessons (selected by id); anything else falls back to the local result.
func (g *LLMGenerator) Deduplicate(ctx context.Context, lessons []Lesson) ([]Lesson, error) {
	local := LocalDedup(lessons)
	if len(local) < 2 {
		return local, nil
	}

	payload, err := json.Marshal(local)
	if err != nil {
		return local, nil
	}
	raw, err := g.Client.Complete(ctx, llm.Request{
		System: "You deduplicate lessons describing the same underlying issue. " +
			`Respond with only a JSON array of the ids to keep, e.g. ["id1","id2"]. ` +
			"Keep every lesson that is distinct.",
		User: string(payload),
	})
	if err != nil {
		slog.Warn("semantic dedup failed, keeping local result", "err", err)
		return local, nil
	}
	var keep []string
	if err := json.Unmarshal([]byte(extractJSON(raw)), &keep); err != nil || len(keep) == 0 {
		return local, nil
	}
	keepSet := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}
	out := make([]Lesson, 0, len(local))
	for _, l := range local {
		if _, ok := keepSet[l.ID]; ok {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return local, nil
	}
	return out, nil
}
