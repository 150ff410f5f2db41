// Package orchestrator ties the planning pipeline together per session: a
// state machine over the slot map whose nodes run extract,
// retrieve+rank, plan, and present in order, plus the feedback turn that
// revises a committed itinerary. The orchestrator is single-threaded per
// session; concurrency lives inside the nodes.
package orchestrator

import (
	stdctx "context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tripcraft/planner/apperr"
	"github.com/tripcraft/planner/catalog"
	"github.com/tripcraft/planner/context"
	"github.com/tripcraft/planner/extractor"
	"github.com/tripcraft/planner/feedback"
	"github.com/tripcraft/planner/log"
	"github.com/tripcraft/planner/model"
	"github.com/tripcraft/planner/orm"
	"github.com/tripcraft/planner/planner"
	"github.com/tripcraft/planner/retrieval"
	"github.com/tripcraft/planner/traveltime"
)

// Config bounds a turn and the per-session history.
type Config struct {
	TurnDeadline       time.Duration
	MaxDayCount        int
	MaxFeedbackHistory int
}

// DefaultConfig carries the documented defaults.
func DefaultConfig() Config {
	return Config{
		TurnDeadline:       20 * time.Second,
		MaxDayCount:        14,
		MaxFeedbackHistory: 50,
	}
}

// Reply is what a turn hands back to the session API adapter.
type Reply struct {
	Text        string
	State       model.State
	Itinerary   *model.Itinerary
	Suggestions []string
	AppliedOps  []model.FeedbackOperation
}

// Orchestrator owns every conversation session and runs their turns.
type Orchestrator struct {
	extractor extractor.Extractor
	retriever retrieval.Retriever
	planner   planner.Planner
	engine    *feedback.Engine
	generator Generator
	catalog   catalog.Repository
	oracle    traveltime.Oracle
	db        *gorm.DB // nil disables the persistent feedback log
	cfg       Config

	mu       sync.Mutex
	sessions map[string]*session
}

// session wraps the model's session record with the executor lock that
// keeps turns serial per session.
type session struct {
	mu sync.Mutex
	s  model.ConversationSession
}

// New wires an Orchestrator. db may be nil in tests; everything else is
// required.
func New(ext extractor.Extractor, ret retrieval.Retriever, pl planner.Planner, eng *feedback.Engine, gen Generator, cat catalog.Repository, oracle traveltime.Oracle, db *gorm.DB, cfg Config) *Orchestrator {
	return &Orchestrator{
		extractor: ext,
		retriever: ret,
		planner:   pl,
		engine:    eng,
		generator: gen,
		catalog:   cat,
		oracle:    oracle,
		db:        db,
		cfg:       cfg,
		sessions:  make(map[string]*session),
	}
}

// CreateSession registers a fresh session and returns its id.
func (o *Orchestrator) CreateSession() string {
	id := uuid.New().String()
	o.mu.Lock()
	o.sessions[id] = &session{s: model.ConversationSession{
		SessionID: id,
		State:     model.StateIdle,
		CreatedAt: time.Now(),
	}}
	o.mu.Unlock()
	return id
}

func (o *Orchestrator) lookup(id string) (*session, error) {
	o.mu.Lock()
	sess, ok := o.sessions[id]
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("orchestrator: unknown session %s", id)
	}
	return sess, nil
}

// Message runs one full planning turn: EXTRACT -> RETRIEVE -> RANK ->
// PLAN -> PRESENT -> READY, with each node writing its slot suffix and
// never touching prior slots.
func (o *Orchestrator) Message(ctx stdctx.Context, sessionID, text string) (*Reply, error) {
	sess, err := o.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	ctx, cancel := stdctx.WithTimeout(ctx, o.cfg.TurnDeadline)
	defer cancel()
	ctx = context.WithRequestID(ctx, sessionID)

	sess.s.TurnCounter++
	prevDestination := ""
	if sess.s.Slots.Story != nil {
		prevDestination = sess.s.Slots.Story.Destination
	}
	sess.s.Slots = model.Slots{UserInput: text}

	// EXTRACT
	sess.s.State = model.StateExtract
	story, err := o.extractor.Extract(ctx, text, extractor.SessionContext{PreviousDestination: prevDestination})
	if err != nil {
		sess.s.Slots.Error = err
		sess.s.State = model.StateIdle
		if apperr.Is(err, apperr.KindParseError) {
			return &Reply{
				Text:  "I couldn't quite work out the trip you have in mind. Could you tell me where you're going, for how many days, and what you'd like to see?",
				State: sess.s.State,
			}, nil
		}
		return nil, err
	}
	sess.s.Slots.Story = story

	// RETRIEVE + RANK: the retriever runs both branches concurrently and
	// reranks the fused set.
	sess.s.State = model.StateRetrieve
	result, err := o.retriever.Retrieve(ctx, story)
	if err != nil {
		sess.s.Slots.Error = err
		sess.s.State = model.StateIdle
		if apperr.Is(err, apperr.KindNoCandidates) {
			return &Reply{
				Text:  fmt.Sprintf("I couldn't find places matching that around %s. Try widening the area or loosening the interests.", story.Destination),
				State: sess.s.State,
				Suggestions: []string{
					"Widen the search area",
					"Drop one of the interests",
					"Remove the budget limit",
				},
			}, nil
		}
		return nil, err
	}
	sess.s.State = model.StateRank
	sess.s.Slots.Candidates = result.Candidates
	if result.StructuredDegraded || result.SemanticDegraded {
		log.Warnf(ctx, "orchestrator: retrieval degraded (structured=%v semantic=%v)", result.StructuredDegraded, result.SemanticDegraded)
	}

	// PLAN
	sess.s.State = model.StatePlan
	it, decision, err := o.planner.Plan(ctx, story, result.Candidates, o.catalog, o.oracle)
	if err != nil {
		sess.s.Slots.Error = err
		sess.s.State = model.StateIdle
		if apperr.Is(err, apperr.KindNoCandidates) {
			return &Reply{
				Text:  "None of the places I found fit your daily window. A longer day or a more relaxed pace would help.",
				State: sess.s.State,
			}, nil
		}
		return nil, err
	}
	if decision != nil {
		sess.s.State = model.StatePlanPendingDecision
		if len(decision.Partial) > 0 {
			sess.s.Slots.Itinerary = &decision.Partial[0]
		}
		return &Reply{
			Text:        decisionText(decision),
			State:       sess.s.State,
			Itinerary:   sess.s.Slots.Itinerary,
			Suggestions: decisionSuggestions(decision),
		}, nil
	}
	if ctx.Err() != nil {
		it.Truncated = true
	}
	sess.s.Slots.Itinerary = it

	// PRESENT
	sess.s.State = model.StatePresent
	reply := o.present(ctx, story, it)
	sess.s.State = model.StateReady
	return &Reply{Text: reply, State: sess.s.State, Itinerary: it}, nil
}

// present hands the itinerary to the external generator and falls back to
// the plain renderer when that call fails; presentation is never worth
// failing a turn that already has a feasible plan.
func (o *Orchestrator) present(ctx stdctx.Context, story *model.Story, it *model.Itinerary) string {
	if o.generator != nil {
		text, err := o.generator.Present(ctx, story, it)
		if err == nil && strings.TrimSpace(text) != "" {
			return text
		}
		log.Warnf(ctx, "orchestrator: generator failed, using plain rendering: %v", err)
	}
	return RenderItinerary(story, it)
}

// Feedback runs a revision turn against the session's committed itinerary.
func (o *Orchestrator) Feedback(ctx stdctx.Context, sessionID, text string) (*Reply, error) {
	sess, err := o.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	ctx, cancel := stdctx.WithTimeout(ctx, o.cfg.TurnDeadline)
	defer cancel()
	ctx = context.WithRequestID(ctx, sessionID)

	if sess.s.Slots.Itinerary == nil || sess.s.Slots.Story == nil {
		return &Reply{
			Text:  "There's no itinerary to revise yet. Tell me about the trip first.",
			State: sess.s.State,
		}, nil
	}

	sess.s.TurnCounter++
	sess.s.State = model.StateFeedback
	story := sess.s.Slots.Story
	current := sess.s.Slots.Itinerary

	ops, err := o.engine.Parse(ctx, text, current)
	if err != nil {
		sess.s.State = model.StateReady
		if apperr.Is(err, apperr.KindParseError) {
			return &Reply{
				Text:      "I couldn't map that onto the plan. Try naming the stop and what you'd like changed.",
				State:     sess.s.State,
				Itinerary: current,
			}, nil
		}
		return nil, err
	}

	next, violations, err := o.engine.Apply(ctx, story, current, ops)
	if err != nil {
		sess.s.State = model.StateReady
		return nil, err
	}
	if len(violations) > 0 {
		sess.s.State = model.StateReady
		return &Reply{
			Text:        "That change doesn't fit: " + strings.Join(violations, "; ") + ". The plan is unchanged.",
			State:       sess.s.State,
			Itinerary:   current,
			Suggestions: violations,
		}, nil
	}

	sess.s.Slots.Itinerary = next
	o.logFeedback(ctx, &sess.s, ops, text)

	sess.s.State = model.StateReady
	return &Reply{
		Text:       o.present(ctx, story, next),
		State:      sess.s.State,
		Itinerary:  next,
		AppliedOps: ops,
	}, nil
}

// logFeedback appends the applied operations to the bounded in-session
// history and, when a store is wired, the append-only persistent log.
func (o *Orchestrator) logFeedback(ctx stdctx.Context, s *model.ConversationSession, ops []model.FeedbackOperation, reason string) {
	now := time.Now()
	for i, op := range ops {
		event := model.FeedbackEvent{
			SessionID: s.SessionID,
			TargetID:  op.TargetPlaceID,
			Op:        op.Op,
			Reason:    reason,
			Timestamp: now.Add(time.Duration(i) * time.Microsecond),
		}
		if op.Op == model.OpReorder || op.TargetPlaceID == "" {
			day := op.DayIndex
			event.DayIndex = &day
		}
		s.History = append(s.History, event)
		if o.db != nil {
			if err := orm.AppendFeedbackEvent(o.db, event); err != nil {
				log.Warnf(ctx, "orchestrator: persist feedback event: %v", err)
			}
		}
	}
	if o.cfg.MaxFeedbackHistory > 0 && len(s.History) > o.cfg.MaxFeedbackHistory {
		s.History = s.History[len(s.History)-o.cfg.MaxFeedbackHistory:]
	}
}

// Reset clears a session's slots and returns it to IDLE.
func (o *Orchestrator) Reset(sessionID string) error {
	sess, err := o.lookup(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.s.Slots = model.Slots{}
	sess.s.State = model.StateIdle
	sess.s.History = nil
	return nil
}

// Snapshot returns a copy of the session's full slot state.
func (o *Orchestrator) Snapshot(sessionID string) (*model.ConversationSession, error) {
	sess, err := o.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	snapshot := sess.s
	if sess.s.Slots.Itinerary != nil {
		clone := sess.s.Slots.Itinerary.Clone()
		snapshot.Slots.Itinerary = &clone
	}
	snapshot.History = append([]model.FeedbackEvent(nil), sess.s.History...)
	return &snapshot, nil
}

// decisionText renders a NeedsUserDecision into the user-facing summary.
func decisionText(d *planner.Decision) string {
	var b strings.Builder
	b.WriteString("I couldn't fit everything you asked for. ")
	if len(d.Violations) > 0 {
		b.WriteString("Unplaced: ")
		b.WriteString(strings.Join(d.Violations, ", "))
		b.WriteString(". ")
	}
	b.WriteString("I can drop one of them, add a day, or start from a looser pace — which would you prefer?")
	return b.String()
}

func decisionSuggestions(d *planner.Decision) []string {
	out := make([]string, 0, len(d.Violations)+2)
	for _, v := range d.Violations {
		out = append(out, fmt.Sprintf("Drop %s", v))
	}
	out = append(out, "Add another day", "Switch to a relaxed pace")
	return out
}
