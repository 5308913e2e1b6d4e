package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pablof7z/tenex-sub009/internal/journal"
	"github.com/pablof7z/tenex-sub009/internal/store"
	"github.com/pablof7z/tenex-sub009/internal/transport"
)

// Publisher emits one accepted lesson as an outbound event. The returned id
// is the published event id and doubles as the acknowledgment.
type Publisher interface {
	Publish(ctx context.Context, conversationID string, lesson Lesson) (string, error)
}

// EventPublisher publishes lessons through the event transport and, when a
// journal is configured, appends them to the agent's lessons file. A journal
// failure does not fail the publish; the transport ack already happened.
type EventPublisher struct {
	Transport transport.Publisher
	Journal   *journal.Journal // optional
	// Author is the identity stamped on outbound lesson events.
	Author string

	now func() time.Time
}

func NewEventPublisher(t transport.Publisher, j *journal.Journal, author string) *EventPublisher {
	return &EventPublisher{
		Transport: t,
		Journal:   j,
		Author:    author,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (p *EventPublisher) Publish(ctx context.Context, conversationID string, lesson Lesson) (string, error) {
	body, err := json.Marshal(lesson)
	if err != nil {
		return "", fmt.Errorf("marshal lesson: %w", err)
	}
	ev := store.Event{
		ID:      uuid.NewString(),
		Kind:    "outbound",
		Content: string(body),
		Tags: [][]string{
			{"kind", "lesson"},
			{"agent", lesson.AgentID},
			{"impact", string(lesson.Impact)},
			{"conversation", conversationID},
		},
		Author:    p.Author,
		CreatedAt: p.now(),
	}
	if err := p.Transport.Publish(ctx, ev); err != nil {
		return "", fmt.Errorf("publish lesson: %w", err)
	}
	if p.Journal != nil && lesson.AgentName != "" {
		jerr := p.Journal.Append(ctx, lesson.AgentName, journal.Entry{
			ConversationID: conversationID,
			LessonType:     string(lesson.Type),
			Description:    lesson.Description,
			Context:        lesson.Context,
			Impact:         string(lesson.Impact),
			Tags:           lesson.Tags,
			CreatedAt:      p.now(),
		})
		if jerr != nil {
			slog.Warn("lesson journal append failed", "agent", lesson.AgentName, "err", jerr)
		}
	}
	return ev.ID, nil
}
