package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/pablof7z/tenex-sub009/internal/llm"
	"github.com/pablof7z/tenex-sub009/internal/store"
)

// DefaultCorrectionThreshold is the classifier confidence required before a
// message counts as a correction.
const DefaultCorrectionThreshold = 0.7

// historyTail is how many recent transcript entries the classifier sees.
const historyTail = 6

// CorrectionQuery is the classifier input: the inbound message plus recent
// conversation context.
type CorrectionQuery struct {
	Message       string
	Summary       string
	RecentHistory []string
}

// Verdict is the classifier output.
type Verdict struct {
	IsCorrection bool     `json:"is_correction"`
	Confidence   float64  `json:"confidence"`
	Reason       string   `json:"reason"`
	Issues       []string `json:"issues,omitempty"`
}

// Classifier is the opaque LLM-classification collaborator.
type Classifier interface {
	ClassifyCorrection(ctx context.Context, q CorrectionQuery) (Verdict, error)
}

// Detector decides whether an inbound event is a correction of prior agent
// output.
type Detector struct {
	Classifier Classifier
	Threshold  float64 // 0 = DefaultCorrectionThreshold
}

// Check returns a correction trigger, or nil when the event is not a
// correction. Classifier failures are returned to the caller; the caller
// treats them as "no trigger" since reflection is best-effort.
func (d *Detector) Check(ctx context.Context, ev store.Event, c *store.Conversation) (*Trigger, error) {
	if ev.Kind != "inbound" {
		return nil, nil
	}
	// A correction corrects something: require prior agent output.
	if !hasOutbound(c) {
		return nil, nil
	}
	q := CorrectionQuery{
		Message:       ev.Content,
		Summary:       metadataString(c, "summary"),
		RecentHistory: recentHistory(c, historyTail),
	}
	verdict, err := d.Classifier.ClassifyCorrection(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("classify correction: %w", err)
	}
	threshold := d.Threshold
	if threshold <= 0 {
		threshold = DefaultCorrectionThreshold
	}
	if !verdict.IsCorrection || verdict.Confidence < threshold {
		return nil, nil
	}
	meta := map[string]any{"event_id": ev.ID}
	if team := ev.TagValue("team"); team != "" {
		meta["team"] = team
	}
	if len(verdict.Issues) > 0 {
		meta["issues"] = verdict.Issues
	}
	slog.Info("correction detected", "conversation", c.ID, "confidence", verdict.Confidence, "reason", verdict.Reason)
	return &Trigger{
		ID:             uuid.NewString(),
		Type:           TriggerCorrection,
		ConversationID: c.ID,
		Reason:         verdict.Reason,
		Metadata:       meta,
	}, nil
}

func hasOutbound(c *store.Conversation) bool {
	for _, ev := range c.History {
		if ev.Kind == "outbound" {
			return true
		}
	}
	return false
}

func metadataString(c *store.Conversation, key string) string {
	if c.Metadata == nil {
		return ""
	}
	s, _ := c.Metadata[key].(string)
	return s
}

func recentHistory(c *store.Conversation, n int) []string {
	start := len(c.History) - n
	if start < 0 {
		start = 0
	}
	out := make([]string, 0, n)
	for _, ev := range c.History[start:] {
		out = append(out, fmt.Sprintf("[%s %s] %s", ev.Kind, ev.Author, ev.Content))
	}
	return out
}

// LLMClassifier implements Classifier on a completion client by asking for a
// JSON verdict.
type LLMClassifier struct {
	Client llm.Client
}

const classifierSystem = "You classify whether a user message corrects prior agent output. " +
	"Respond with only a JSON object: " +
	`{"is_correction": bool, "confidence": 0.0-1.0, "reason": "...", "issues": ["..."]}`

func (l *LLMClassifier) ClassifyCorrection(ctx context.Context, q CorrectionQuery) (Verdict, error) {
	var b strings.Builder
	if q.Summary != "" {
		fmt.Fprintf(&b, "Conversation summary: %s\n\n", q.Summary)
	}
	if len(q.RecentHistory) > 0 {
		b.WriteString("Recent transcript:\n")
		for _, h := range q.RecentHistory {
			b.WriteString(h)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "New message:\n%s", q.Message)

	raw, err := l.Client.Complete(ctx, llm.Request{System: classifierSystem, User: b.String()})
	if err != nil {
		return Verdict{}, err
	}
	var v Verdict
	if err := json.Unmarshal([]byte(extractJSON(raw)), &v); err != nil {
		return Verdict{}, fmt.Errorf("parse verdict %q: %w", raw, err)
	}
	return v, nil
}

// extractJSON returns the first balanced {...} or [...] block in s, tolerating
// models that wrap JSON in prose or code fences.
func extractJSON(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	opening := s[start]
	var closing byte = '}'
	if opening == '[' {
		closing = ']'
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case opening:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}
