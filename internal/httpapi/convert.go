package httpapi

import (
	"github.com/pablof7z/tenex-sub009/internal/store"
	"github.com/pablof7z/tenex-sub009/pkg/models"
)

func toSummaries(in []store.Summary) []models.Summary {
	out := make([]models.Summary, 0, len(in))
	for _, s := range in {
		out = append(out, models.Summary{
			ID:         s.ID,
			Title:      s.Title,
			Phase:      string(s.Phase),
			EventCount: s.EventCount,
			Archived:   s.Archived,
			CreatedAt:  s.CreatedAt,
			UpdatedAt:  s.UpdatedAt,
		})
	}
	return out
}

func toConversation(c *store.Conversation) models.Conversation {
	history := make([]models.Event, 0, len(c.History))
	for _, ev := range c.History {
		history = append(history, models.Event{
			ID:        ev.ID,
			Kind:      ev.Kind,
			Content:   ev.Content,
			Tags:      ev.Tags,
			Author:    ev.Author,
			CreatedAt: ev.CreatedAt,
		})
	}
	transitions := make([]models.PhaseTransition, 0, len(c.Transitions))
	for _, t := range c.Transitions {
		transitions = append(transitions, models.PhaseTransition{
			From:    string(t.From),
			To:      string(t.To),
			Message: t.Message,
			Agent:   t.Agent,
			Reason:  t.Reason,
			At:      t.At,
		})
	}
	return models.Conversation{
		ID:               c.ID,
		Title:            c.Title,
		Phase:            string(c.Phase),
		History:          history,
		PhaseStartedAt:   c.PhaseStartedAt,
		Transitions:      transitions,
		Metadata:         c.Metadata,
		ExecutionSeconds: c.ExecutionSeconds,
		SessionOpen:      c.SessionOpen,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}
