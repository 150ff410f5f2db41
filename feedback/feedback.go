// Package feedback turns natural-language revision requests into typed
// operations (DROP, REPLACE, MOVE, INSERT, SWAP, REORDER) and applies them
// transactionally to an existing itinerary: the engine builds a candidate
// next version, revalidates it end to end, and either commits it or hands
// back the set of violations, never losing the prior itinerary.
package feedback

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tripcraft/planner/catalog"
	"github.com/tripcraft/planner/log"
	"github.com/tripcraft/planner/model"
	"github.com/tripcraft/planner/traveltime"
)

// Config tunes the engine's local search and travel lookups.
type Config struct {
	TwoOptIterationCap int
	TravelProfile      traveltime.Profile
	SubstituteLimit    int // how many catalog hits REPLACE/INSERT consider
}

// DefaultConfig mirrors the planner's refinement defaults.
func DefaultConfig() Config {
	return Config{
		TwoOptIterationCap: 64,
		TravelProfile:      traveltime.ProfileDriving,
		SubstituteLimit:    16,
	}
}

// Engine applies parsed feedback operations to an itinerary.
type Engine struct {
	catalog catalog.Repository
	oracle  traveltime.Oracle
	parser  Parser
	cfg     Config
}

// NewEngine constructs an Engine. parser may be nil when callers parse
// operations themselves and only use Apply.
func NewEngine(cat catalog.Repository, oracle traveltime.Oracle, parser Parser, cfg Config) *Engine {
	return &Engine{catalog: cat, oracle: oracle, parser: parser, cfg: cfg}
}

// Parse converts a revision utterance into typed operations against the
// current itinerary.
func (e *Engine) Parse(ctx context.Context, utterance string, it *model.Itinerary) ([]model.FeedbackOperation, error) {
	return e.parser.Parse(ctx, utterance, it)
}

// Apply runs ops against it and returns either the committed next version
// or the violations that blocked the commit. The input itinerary is never
// mutated. A non-nil error means the engine itself failed (backend down,
// unknown op); violations are the business outcome of a well-formed but
// infeasible revision.
func (e *Engine) Apply(ctx context.Context, story *model.Story, it *model.Itinerary, ops []model.FeedbackOperation) (*model.Itinerary, []string, error) {
	next := it.Clone()

	tt, err := e.newTravelTable(ctx, story, &next)
	if err != nil {
		return nil, nil, err
	}

	// Pinned ETAs survive the sequential rebuild: a MOVE with an explicit
	// time keeps that time so revalidation can catch an opening-hours
	// clash instead of silently sliding the visit to a legal slot.
	pins := map[string]int{}

	for _, op := range ops {
		var opErr error
		switch op.Op {
		case model.OpDrop:
			opErr = e.applyDrop(&next, op)
		case model.OpMove:
			opErr = e.applyMove(ctx, tt, &next, op, pins)
		case model.OpInsert:
			opErr = e.applyInsert(ctx, tt, story, &next, op, pins)
		case model.OpSwap:
			opErr = e.applySwap(&next, op)
		case model.OpReplace:
			opErr = e.applyReplace(ctx, tt, story, &next, op)
		case model.OpReorder:
			opErr = e.applyReorder(ctx, tt, &next, op)
		default:
			return nil, nil, fmt.Errorf("feedback: unknown operation %q", op.Op)
		}
		if opErr != nil {
			return nil, []string{opErr.Error()}, nil
		}
	}

	if err := e.rebuildAll(ctx, tt, story, &next, pins); err != nil {
		return nil, nil, err
	}

	violations, err := e.Validate(ctx, story, &next)
	if err != nil {
		return nil, nil, err
	}
	if len(violations) > 0 {
		log.Debugf(ctx, "feedback: revision rejected with %d violations", len(violations))
		return nil, violations, nil
	}

	next.Version = it.Version + 1
	return &next, nil, nil
}

// resolveTarget locates a visit by place id, or by (day index, 1-based
// ordinal) when the utterance referred to "the second stop on day 1".
func resolveTarget(it *model.Itinerary, op model.FeedbackOperation) (dayIdx, visitIdx int, err error) {
	if op.TargetPlaceID != "" {
		for d := range it.Days {
			for i, v := range it.Days[d].Visits {
				if v.PlaceID == op.TargetPlaceID {
					return d, i, nil
				}
			}
		}
		return 0, 0, fmt.Errorf("place %s is not in the itinerary", op.TargetPlaceID)
	}
	if op.TargetOrdinal > 0 {
		d := op.DayIndex
		if d < 0 || d >= len(it.Days) {
			return 0, 0, fmt.Errorf("day %d does not exist", d+1)
		}
		if op.TargetOrdinal > len(it.Days[d].Visits) {
			return 0, 0, fmt.Errorf("day %d has only %d stops", d+1, len(it.Days[d].Visits))
		}
		return d, op.TargetOrdinal - 1, nil
	}
	return 0, 0, fmt.Errorf("operation names no target")
}

func (e *Engine) applyDrop(it *model.Itinerary, op model.FeedbackOperation) error {
	d, i, err := resolveTarget(it, op)
	if err != nil {
		return err
	}
	day := &it.Days[d]
	day.Visits = append(day.Visits[:i], day.Visits[i+1:]...)
	return nil
}

func (e *Engine) applyMove(ctx context.Context, tt *travelTable, it *model.Itinerary, op model.FeedbackOperation, pins map[string]int) error {
	d, i, err := resolveTarget(it, op)
	if err != nil {
		return err
	}
	target := op.NewDayIndex
	if target < 0 || target >= len(it.Days) {
		return fmt.Errorf("day %d does not exist", target+1)
	}

	v := it.Days[d].Visits[i]
	it.Days[d].Visits = append(it.Days[d].Visits[:i], it.Days[d].Visits[i+1:]...)

	if op.NewTimeMin > 0 {
		pins[v.PlaceID] = op.NewTimeMin
		insertByTime(&it.Days[target], v, op.NewTimeMin)
		return nil
	}
	return e.insertBestSlot(ctx, tt, &it.Days[target], v)
}

func (e *Engine) applyInsert(ctx context.Context, tt *travelTable, story *model.Story, it *model.Itinerary, op model.FeedbackOperation, pins map[string]int) error {
	place, err := e.resolveInsertPlace(ctx, story, it, op)
	if err != nil {
		return err
	}

	d := op.DayIndex
	if d < 0 || d >= len(it.Days) {
		d = bestDayBySlack(story, it)
	}

	stay := place.DefaultStayMin
	if stay <= 0 {
		stay = 60
	}
	v := model.Visit{PlaceID: place.ID, Name: place.Name, StayMin: stay}
	tt.points[place.ID] = place.Point

	if op.NewTimeMin > 0 {
		pins[place.ID] = op.NewTimeMin
		insertByTime(&it.Days[d], v, op.NewTimeMin)
		return nil
	}
	return e.insertBestSlot(ctx, tt, &it.Days[d], v)
}

// resolveInsertPlace treats the query first as a place id, then as a
// free-text description searched against the catalog around the story's
// anchor.
func (e *Engine) resolveInsertPlace(ctx context.Context, story *model.Story, it *model.Itinerary, op model.FeedbackOperation) (model.Place, error) {
	q := strings.TrimSpace(op.InsertQuery)
	if q == "" {
		return model.Place{}, fmt.Errorf("insert request names no place")
	}

	if places, err := e.catalog.GetPlaces(ctx, []string{q}); err == nil {
		if p, ok := places[q]; ok {
			return p, nil
		}
	}

	terms := strings.Fields(strings.ToLower(q))
	cands, err := e.catalog.FindPlaces(ctx, catalog.FindPlacesQuery{
		Center:     story.Anchor,
		RadiusM:    story.RadiusM,
		Categories: terms,
		Tags:       terms,
		Weekday:    int(story.StartDate.Weekday()),
	})
	if err != nil {
		return model.Place{}, err
	}

	visited := it.VisitedPlaceIDs()
	best := pickBestCandidate(cands, visited, e.cfg.SubstituteLimit)
	if best == nil {
		return model.Place{}, fmt.Errorf("no place in the catalog matches %q", q)
	}
	return best.Place, nil
}

func (e *Engine) applySwap(it *model.Itinerary, op model.FeedbackOperation) error {
	d1, i1, err := resolveTarget(it, op)
	if err != nil {
		return err
	}
	d2, i2, err := resolveTarget(it, model.FeedbackOperation{TargetPlaceID: op.SwapWithID})
	if err != nil {
		return err
	}
	a, b := it.Days[d1].Visits[i1], it.Days[d2].Visits[i2]
	it.Days[d1].Visits[i1] = model.Visit{PlaceID: b.PlaceID, Name: b.Name, StayMin: b.StayMin}
	it.Days[d2].Visits[i2] = model.Visit{PlaceID: a.PlaceID, Name: a.Name, StayMin: a.StayMin}
	return nil
}

func (e *Engine) applyReplace(ctx context.Context, tt *travelTable, story *model.Story, it *model.Itinerary, op model.FeedbackOperation) error {
	d, i, err := resolveTarget(it, op)
	if err != nil {
		return err
	}
	old := it.Days[d].Visits[i]

	oldPlaces, err := e.catalog.GetPlaces(ctx, []string{old.PlaceID})
	if err != nil {
		return err
	}
	oldPlace, ok := oldPlaces[old.PlaceID]
	if !ok {
		return fmt.Errorf("place %s is no longer in the catalog", old.PlaceID)
	}

	terms := append(append([]string{}, oldPlace.Categories...), oldPlace.Tags...)
	for k, v := range op.Hints {
		if k == "category" || k == "tag" {
			terms = append(terms, strings.ToLower(v))
		}
	}
	radius := story.RadiusM
	if r, ok := op.Hints["radius_m"]; ok {
		fmt.Sscanf(r, "%f", &radius)
	}

	cands, err := e.catalog.FindPlaces(ctx, catalog.FindPlacesQuery{
		Center:     story.Anchor,
		RadiusM:    radius,
		Categories: terms,
		Tags:       terms,
		Weekday:    int(story.StartDate.Weekday()),
	})
	if err != nil {
		return err
	}

	visited := it.VisitedPlaceIDs()
	best := pickBestCandidate(cands, visited, e.cfg.SubstituteLimit)
	if best == nil {
		return fmt.Errorf("no substitute found for %s", old.Name)
	}

	stay := best.Place.DefaultStayMin
	if stay <= 0 {
		stay = old.StayMin
	}
	tt.points[best.Place.ID] = best.Place.Point
	it.Days[d].Visits[i] = model.Visit{PlaceID: best.Place.ID, Name: best.Place.Name, StayMin: stay}
	return nil
}

func (e *Engine) applyReorder(ctx context.Context, tt *travelTable, it *model.Itinerary, op model.FeedbackOperation) error {
	d := op.DayIndex
	if d < 0 || d >= len(it.Days) {
		return fmt.Errorf("day %d does not exist", d+1)
	}
	reorderDay(ctx, tt, &it.Days[d], e.cfg.TwoOptIterationCap)
	return nil
}

// insertBestSlot tries each insertion position in the day and commits the
// one adding the least travel, scanning positions ascending so ties go to
// the earliest slot.
func (e *Engine) insertBestSlot(ctx context.Context, tt *travelTable, day *model.DayPlan, v model.Visit) error {
	bestPos, bestAdded := 0, -1
	for pos := 0; pos <= len(day.Visits); pos++ {
		prev := ""
		if pos > 0 {
			prev = day.Visits[pos-1].PlaceID
		}
		next := ""
		if pos < len(day.Visits) {
			next = day.Visits[pos].PlaceID
		}
		in, _ := tt.minutes(ctx, prev, v.PlaceID)
		out := 0
		removed := 0
		if next != "" {
			out, _ = tt.minutes(ctx, v.PlaceID, next)
			removed, _ = tt.minutes(ctx, prev, next)
		}
		added := in + out - removed
		if bestAdded < 0 || added < bestAdded {
			bestAdded = added
			bestPos = pos
		}
	}
	day.Visits = append(day.Visits, model.Visit{})
	copy(day.Visits[bestPos+1:], day.Visits[bestPos:])
	day.Visits[bestPos] = v
	return nil
}

// insertByTime places v at the position its requested start time falls in
// the day's current order.
func insertByTime(day *model.DayPlan, v model.Visit, atMin int) {
	pos := len(day.Visits)
	for i, existing := range day.Visits {
		if existing.ETAMin > atMin {
			pos = i
			break
		}
	}
	day.Visits = append(day.Visits, model.Visit{})
	copy(day.Visits[pos+1:], day.Visits[pos:])
	day.Visits[pos] = v
}

// bestDayBySlack returns the day with the most unused daily-window budget.
func bestDayBySlack(story *model.Story, it *model.Itinerary) int {
	best, bestSlack := 0, -1
	budget := story.Daily.EndMin - story.Daily.StartMin
	for d := range it.Days {
		slack := budget - it.Days[d].TotalMinutes()
		if slack > bestSlack {
			bestSlack = slack
			best = d
		}
	}
	return best
}

// pickBestCandidate returns the highest-rated catalog hit not already in
// the itinerary, tie-broken by id for determinism.
func pickBestCandidate(cands []model.Candidate, visited map[string]struct{}, limit int) *model.Candidate {
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	filtered := make([]model.Candidate, 0, len(cands))
	for _, c := range cands {
		if _, ok := visited[c.PlaceID]; ok {
			continue
		}
		filtered = append(filtered, c)
	}
	if len(filtered) == 0 {
		return nil
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		ri, rj := 0.0, 0.0
		if filtered[i].Rating != nil {
			ri = *filtered[i].Rating
		}
		if filtered[j].Rating != nil {
			rj = *filtered[j].Rating
		}
		if ri != rj {
			return ri > rj
		}
		return filtered[i].PlaceID < filtered[j].PlaceID
	})
	return &filtered[0]
}
