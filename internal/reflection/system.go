package reflection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pablof7z/tenex-sub009/internal/conversation"
	"github.com/pablof7z/tenex-sub009/internal/otel"
	"github.com/pablof7z/tenex-sub009/internal/store"
)

// System orchestrates correction detection, agent selection, lesson
// generation, deduplication, and publishing. It mutates conversation state
// only through the conversation manager's metadata path.
type System struct {
	Manager   *conversation.Manager
	Detector  *Detector
	Generator Generator
	Publisher Publisher

	now func() time.Time
}

func NewSystem(mgr *conversation.Manager, det *Detector, gen Generator, pub Publisher) *System {
	return &System{
		Manager:   mgr,
		Detector:  det,
		Generator: gen,
		Publisher: pub,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CheckForReflection classifies an inbound event against the conversation.
// Returns nil when no reflection is warranted. Classifier errors degrade to
// "no trigger" with a warning: reflection is best-effort and must never block
// the conversation pipeline.
func (s *System) CheckForReflection(ctx context.Context, ev store.Event, c *store.Conversation) *Trigger {
	trigger, err := s.Detector.Check(ctx, ev, c)
	if err != nil {
		slog.Warn("correction detection failed", "conversation", c.ID, "err", err)
		return nil
	}
	return trigger
}

// Orchestrate runs the full reflection loop for a trigger.
//
// Agent selection: a trigger carrying a team id selects every available
// agent — the roster at reflection time may differ from the roster at error
// time, so over-inclusion beats under-inclusion. Without a team id only
// agents present in the conversation's participant list are selected.
//
// Publishing counts exactly the acknowledgments received, in order: a
// partial publish leaves a prefix of the deduplicated list published and the
// remainder unpublished, never re-ordered.
func (s *System) Orchestrate(ctx context.Context, trigger Trigger, available []Agent) (Result, error) {
	start := s.now()
	res := Result{Trigger: trigger}
	finish := func() Result {
		res.Duration = s.now().Sub(start)
		otel.RecordReflection(ctx, string(trigger.Type), len(res.Published), res.Duration)
		return res
	}

	c, err := s.Manager.Get(ctx, trigger.ConversationID)
	if err != nil {
		return finish(), fmt.Errorf("load conversation for reflection: %w", err)
	}

	selected := selectAgents(trigger, available, c)
	if len(selected) == 0 {
		slog.Warn("reflection skipped: no agents selected", "conversation", c.ID, "trigger", trigger.ID)
		return finish(), nil
	}

	generated, err := s.Generator.Generate(ctx, trigger, selected)
	if err != nil {
		return finish(), fmt.Errorf("lesson generation: %w", err)
	}
	res.Generated = generated
	if len(generated) == 0 {
		slog.Info("reflection produced no lessons", "conversation", c.ID, "trigger", trigger.ID)
		return finish(), nil
	}

	deduped, err := s.Generator.Deduplicate(ctx, generated)
	if err != nil {
		return finish(), fmt.Errorf("lesson deduplication: %w", err)
	}

	for _, lesson := range deduped {
		if _, err := s.Publisher.Publish(ctx, c.ID, lesson); err != nil {
			slog.Warn("lesson publish failed; remaining lessons left unpublished",
				"conversation", c.ID, "lesson", lesson.ID, "err", err)
			break
		}
		res.Published = append(res.Published, lesson)
	}

	rec := store.Reflection{
		TriggerID:        trigger.ID,
		LessonsGenerated: len(res.Generated),
		LessonsPublished: len(res.Published),
		Timestamp:        s.now(),
	}
	if err := s.Manager.AppendReflection(ctx, c.ID, rec); err != nil {
		return finish(), fmt.Errorf("record reflection: %w", err)
	}
	slog.Info("reflection complete", "conversation", c.ID, "trigger", trigger.ID,
		"generated", rec.LessonsGenerated, "published", rec.LessonsPublished)
	return finish(), nil
}

func selectAgents(trigger Trigger, available []Agent, c *store.Conversation) []Agent {
	if trigger.TeamID() != "" {
		out := make([]Agent, len(available))
		copy(out, available)
		return out
	}
	participants := make(map[string]struct{})
	for _, p := range c.Participants() {
		participants[p] = struct{}{}
	}
	var out []Agent
	for _, a := range available {
		if _, ok := participants[a.ID]; ok {
			out = append(out, a)
		}
	}
	return out
}
