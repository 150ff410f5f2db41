package model

import "time"

// State is one node of the per-session conversation state machine.
type State string

const (
	StateIdle                State = "IDLE"
	StateExtract             State = "EXTRACT"
	StateRetrieve            State = "RETRIEVE"
	StateRank                State = "RANK"
	StatePlan                State = "PLAN"
	StatePlanPendingDecision State = "PLAN_PENDING_DECISION"
	StatePresent             State = "PRESENT"
	StateReady               State = "READY"
	StateFeedback            State = "FEEDBACK"
)

// Slots is the per-session slot map. Writes within a turn are monotonic: a
// node reads a prefix of slots and writes a disjoint suffix, never mutating
// prior slots.
type Slots struct {
	UserInput  string
	Story      *Story
	Candidates []Candidate // fused and ranked; branch sets stay inside the retrieve node
	Itinerary  *Itinerary
	Error      error
}

// ConversationSession is a single user's conversation with the planner. The
// Orchestrator exclusively owns a session's slot state; cross-session
// isolation is total.
type ConversationSession struct {
	SessionID   string
	State       State
	Slots       Slots
	TurnCounter int
	CreatedAt   time.Time
	History     []FeedbackEvent // bounded; see orchestrator.MaxFeedbackHistory
}
