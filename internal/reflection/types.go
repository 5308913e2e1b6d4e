// Package reflection turns detected corrections into deduplicated, published
// lessons and records the outcome on the conversation.
package reflection

import (
	"time"
)

// TriggerType classifies what started a reflection.
type TriggerType string

const (
	TriggerCorrection TriggerType = "correction"
	TriggerFailure    TriggerType = "failure"
	TriggerCompletion TriggerType = "completion"
	TriggerManual     TriggerType = "manual"
)

// Trigger is created by the correction detector and consumed once by the
// reflection system.
type Trigger struct {
	ID             string
	Type           TriggerType
	ConversationID string
	Reason         string
	// Metadata may carry the triggering event id, a team id, and detected
	// issues. A team id widens agent selection to the full roster.
	Metadata map[string]any
}

// TeamID returns the team id carried in metadata, or "".
func (t Trigger) TeamID() string {
	if t.Metadata == nil {
		return ""
	}
	s, _ := t.Metadata["team"].(string)
	return s
}

// LessonType classifies a lesson.
type LessonType string

const (
	LessonMistake      LessonType = "mistake"
	LessonSuccess      LessonType = "success"
	LessonDiscovery    LessonType = "discovery"
	LessonOptimization LessonType = "optimization"
)

// Impact grades how much a lesson matters.
type Impact string

const (
	ImpactHigh   Impact = "high"
	ImpactMedium Impact = "medium"
	ImpactLow    Impact = "low"
)

// Lesson is a distilled, reusable piece of knowledge. After publishing it is
// immutable history.
type Lesson struct {
	ID          string     `json:"id"`
	AgentID     string     `json:"agent_id"`
	AgentName   string     `json:"agent_name"`
	Type        LessonType `json:"type"`
	Description string     `json:"description"`
	Context     string     `json:"context,omitempty"`
	Impact      Impact     `json:"impact"`
	Tags        []string   `json:"tags,omitempty"`
}

// Agent identifies one collaborator eligible for lessons.
type Agent struct {
	ID   string
	Name string
}

// Result is the outcome of one reflection orchestration. Published is always
// a prefix of the deduplicated lesson list, in order.
type Result struct {
	Trigger   Trigger
	Generated []Lesson
	Published []Lesson
	Duration  time.Duration
}
