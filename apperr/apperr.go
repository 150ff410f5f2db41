// Package apperr defines the typed error taxonomy every planner component
// reports through: a closed set of kinds the orchestrator switches on to
// decide whether a turn can degrade, retry, or must surface a decision to
// the user.
package apperr

// Kind is the closed set of failure categories a node can report.
type Kind string

const (
	// KindParseError means the Extractor could not produce a well-formed
	// Story from the user's utterance.
	KindParseError Kind = "PARSE_ERROR"
	// KindRetrievalPartial means one retrieval branch failed or timed out
	// but the other returned candidates; the turn proceeds degraded.
	KindRetrievalPartial Kind = "RETRIEVAL_PARTIAL"
	// KindNoCandidates means both retrieval branches returned nothing
	// usable after fusion.
	KindNoCandidates Kind = "NO_CANDIDATES"
	// KindInfeasible means the Planner exhausted the repair ladder without
	// producing a feasible itinerary.
	KindInfeasible Kind = "INFEASIBLE"
	// KindBackendUnavailable means an external collaborator (travel-time
	// backend, embedding backend, LLM) is unreachable or erroring.
	KindBackendUnavailable Kind = "BACKEND_UNAVAILABLE"
	// KindDeadlineExceeded means a node or the whole turn ran past its
	// allotted deadline.
	KindDeadlineExceeded Kind = "DEADLINE_EXCEEDED"
	// KindInvariantViolation means an internal consistency check failed;
	// this always indicates a bug, never user input.
	KindInvariantViolation Kind = "INVARIANT_VIOLATION"
)

// Error is the typed error every node returns in place of a bare error,
// carrying the Kind the orchestrator dispatches on plus an optional
// wrapped cause and op-level context.
type Error struct {
	Kind    Kind
	Op      string // component/function that raised it, e.g. "extractor.Extract"
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Op + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the orchestrator may retry the node that
// produced e without first surfacing anything to the user.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindBackendUnavailable, KindDeadlineExceeded:
		return true
	default:
		return false
	}
}

// Degradable reports whether the turn can continue with a reduced result
// rather than failing outright.
func (e *Error) Degradable() bool {
	return e.Kind == KindRetrievalPartial
}

// New constructs an *Error. err may be nil.
func New(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Is reports whether the first *Error in err's chain has the given kind.
// Wrappers that are not *Error are unwrapped until one is found; the causes
// of that *Error are not inspected.
func Is(err error, kind Kind) bool {
	for err != nil {
		if ae, ok := err.(*Error); ok {
			return ae.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
