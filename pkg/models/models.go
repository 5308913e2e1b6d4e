// Package models provides the JSON-stable types served by the HTTP API.
// These mirror the internal records and are safe for external consumers.
package models

import "time"

// Event is one transcript entry.
type Event struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Content   string     `json:"content"`
	Tags      [][]string `json:"tags,omitempty"`
	Author    string     `json:"author"`
	CreatedAt time.Time  `json:"created_at"`
}

// PhaseTransition is one audit-trail entry.
type PhaseTransition struct {
	From    string    `json:"from"`
	To      string    `json:"to"`
	Message string    `json:"message,omitempty"`
	Agent   string    `json:"agent"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

// Conversation is the full record.
type Conversation struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Phase            string            `json:"phase"`
	History          []Event           `json:"history"`
	PhaseStartedAt   time.Time         `json:"phase_started_at"`
	Transitions      []PhaseTransition `json:"transitions"`
	Metadata         map[string]any    `json:"metadata"`
	ExecutionSeconds float64           `json:"execution_seconds"`
	SessionOpen      bool              `json:"session_open"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Summary is the list/search row.
type Summary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Phase      string    `json:"phase"`
	EventCount int       `json:"event_count"`
	Archived   bool      `json:"archived,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Reflection is one recorded reflection run.
type Reflection struct {
	TriggerID        string    `json:"trigger_id"`
	LessonsGenerated int       `json:"lessons_generated"`
	LessonsPublished int       `json:"lessons_published"`
	Timestamp        time.Time `json:"timestamp"`
}

// Lesson is a published lesson.
type Lesson struct {
	ID          string   `json:"id"`
	AgentID     string   `json:"agent_id"`
	AgentName   string   `json:"agent_name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Context     string   `json:"context,omitempty"`
	Impact      string   `json:"impact"`
	Tags        []string `json:"tags,omitempty"`
}
