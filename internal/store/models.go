// Package store defines the persistence interface and canonical record types
// for conversations. The conversation manager owns the in-memory object graph;
// the store only serializes and retrieves it.
package store

import (
	"time"

	"github.com/pablof7z/tenex-sub009/internal/phase"
)

// Event is one entry in a conversation transcript: an inbound message from
// the event transport or an outbound agent response.
type Event struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"` // "inbound" or "outbound"
	Content   string     `json:"content"`
	Tags      [][]string `json:"tags,omitempty"`
	Author    string     `json:"author"` // pubkey-style identity of the sender
	CreatedAt time.Time  `json:"created_at"`
}

// TagValue returns the second element of the first tag whose first element is
// name, or "".
func (e Event) TagValue(name string) string {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// PhaseTransition is one audit-trail entry: appended on every successful
// phase change, never mutated.
type PhaseTransition struct {
	From    phase.Phase `json:"from"`
	To      phase.Phase `json:"to"`
	Message string      `json:"message,omitempty"`
	Agent   string      `json:"agent"`
	Reason  string      `json:"reason,omitempty"`
	At      time.Time   `json:"at"`
}

// Reflection records one reflection run on a conversation. Stored under
// metadata key "reflections", capped at the most recent entries.
type Reflection struct {
	TriggerID        string    `json:"trigger_id"`
	LessonsGenerated int       `json:"lessons_generated"`
	LessonsPublished int       `json:"lessons_published"`
	Timestamp        time.Time `json:"timestamp"`
}

// Conversation is the unit of a multi-turn agent interaction. History is
// append-only; Transitions is append-only; Metadata is merge-updated.
type Conversation struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Phase            phase.Phase       `json:"phase"`
	History          []Event           `json:"history"`
	PhaseStartedAt   time.Time         `json:"phase_started_at"`
	Transitions      []PhaseTransition `json:"transitions"`
	Metadata         map[string]any    `json:"metadata"`
	ExecutionSeconds float64           `json:"execution_seconds"`
	SessionOpen      bool              `json:"session_open"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Participants returns the distinct event authors in history order.
func (c *Conversation) Participants() []string {
	seen := make(map[string]struct{}, 4)
	var out []string
	for _, ev := range c.History {
		if ev.Author == "" {
			continue
		}
		if _, ok := seen[ev.Author]; ok {
			continue
		}
		seen[ev.Author] = struct{}{}
		out = append(out, ev.Author)
	}
	return out
}

// Summary is the indexed subset of a conversation returned by List/Search.
type Summary struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Phase      phase.Phase `json:"phase"`
	EventCount int         `json:"event_count"`
	Archived   bool        `json:"archived"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// SearchQuery selects conversations by title/metadata substring and phase.
type SearchQuery struct {
	Text            string      // substring match against title and metadata JSON
	Phase           phase.Phase // "" = any
	IncludeArchived bool
	Limit           int // 0 = no limit
}
