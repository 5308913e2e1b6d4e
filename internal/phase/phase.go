// Package phase defines the fixed conversation workflow phases and the
// directed transition table between them. The table is static; legality of a
// transition depends only on (from, to), never on per-conversation state.
package phase

// Phase is one stage of the conversation workflow.
type Phase string

const (
	Chat       Phase = "chat"
	Brainstorm Phase = "brainstorm"
	Plan       Phase = "plan"
	Execute    Phase = "execute"
	Review     Phase = "review"
	Chores     Phase = "chores"
	Reflection Phase = "reflection"
)

// All lists every phase in workflow order.
var All = []Phase{Chat, Brainstorm, Plan, Execute, Review, Chores, Reflection}

// transitions is the directed legal-transition table. reflection -> chat
// closes the loop, so the machine is cyclic; no phase is terminal.
var transitions = map[Phase][]Phase{
	Chat:       {Execute, Plan, Brainstorm},
	Brainstorm: {Chat, Plan, Execute},
	Plan:       {Execute},
	Execute:    {Review, Chat},
	Review:     {Chores, Execute, Chat},
	Chores:     {Reflection},
	Reflection: {Chat},
}

// Valid reports whether p is a member of the fixed phase set.
func Valid(p Phase) bool {
	_, ok := transitions[p]
	return ok
}

// ValidTransitions returns the set of phases reachable from p, in table order.
// Returns nil for an unknown phase.
func ValidTransitions(p Phase) []Phase {
	ts, ok := transitions[p]
	if !ok {
		return nil
	}
	out := make([]Phase, len(ts))
	copy(out, ts)
	return out
}

// CanTransition reports whether to is directly reachable from from.
// A phase is never reachable from itself; same-phase requests are handled as
// no-ops by the conversation manager, not as transitions.
func CanTransition(from, to Phase) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Definition describes a phase for prompting and usage heuristics. It has no
// bearing on transition legality.
type Definition struct {
	Phase       Phase
	Description string
	Goal        string
	WhenToUse   string
	Constraints []string
}

// Definitions is the static per-phase description table.
var Definitions = map[Phase]Definition{
	Chat: {
		Phase:       Chat,
		Description: "Default conversational phase for questions and discussion.",
		Goal:        "Understand what the user wants before committing to work.",
		WhenToUse:   "Any time no structured work is in flight.",
	},
	Brainstorm: {
		Phase:       Brainstorm,
		Description: "Open-ended exploration of approaches before planning.",
		Goal:        "Surface options and tradeoffs without committing to one.",
		WhenToUse:   "When the problem is fuzzy and multiple approaches are plausible.",
	},
	Plan: {
		Phase:       Plan,
		Description: "Produce a concrete, ordered plan for the work.",
		Goal:        "A plan the execute phase can follow step by step.",
		WhenToUse:   "When the goal is clear but the steps are not.",
		Constraints: []string{"no tool execution in this phase"},
	},
	Execute: {
		Phase:       Execute,
		Description: "Carry out the plan; tool invocations are live.",
		Goal:        "Apply the planned changes via shell and file tools.",
		WhenToUse:   "When a plan exists or the task is small enough to do directly.",
	},
	Review: {
		Phase:       Review,
		Description: "Verify the executed work against the request.",
		Goal:        "Catch mistakes before the conversation winds down.",
		WhenToUse:   "After execute completes.",
	},
	Chores: {
		Phase:       Chores,
		Description: "Housekeeping: summaries, cleanup, bookkeeping.",
		Goal:        "Leave the conversation record tidy.",
		WhenToUse:   "After review approves the work.",
	},
	Reflection: {
		Phase:       Reflection,
		Description: "Distill lessons from the conversation.",
		Goal:        "Feed durable lessons back to the agents.",
		WhenToUse:   "At the end of a work cycle, after chores.",
		Constraints: []string{"always returns to chat"},
	},
}
