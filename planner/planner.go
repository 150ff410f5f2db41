// Package planner implements the constructive + local-search planning
// core: a greedy per-day construction under opening-hours and
// daily-budget constraints, 2-opt per-day refinement, multi-day coupling
// of the used-place set, and a repair ladder for infeasible results.
package planner

import (
	"context"

	"github.com/tripcraft/planner/apperr"
	"github.com/tripcraft/planner/log"
	"github.com/tripcraft/planner/model"
	"github.com/tripcraft/planner/traveltime"
)

// originID is the synthetic place id standing in for the destination
// centroid / origin anchor in the travel matrix, since it is not itself a
// candidate place.
const originID = "__origin__"

// Config tunes the greedy heuristic, 2-opt, and repair ladder.
type Config struct {
	PaceTargets          map[model.Pace]int
	GreedyLambda         float64 // travel-minute penalty coefficient
	GreedyMu             float64 // wait-minute penalty coefficient
	MarginalUtilityFloor float64 // stop construction below this once pace target is met
	TwoOptIterationCap   int
	MaxStayShortenPct    float64 // shorten the longest stay by up to this fraction during repair
	RepairRadiusExpand   float64 // widen the retrieval radius by this fraction when the ladder re-retrieves
	RepairLadderDepth    int     // how many ladder steps to attempt before escalating
	RepairRetrieveLimit  int     // cap on extra candidates folded in by a widened retrieval
	TravelProfile        traveltime.Profile
}

// DefaultConfig carries the documented defaults.
func DefaultConfig() Config {
	return Config{
		PaceTargets: map[model.Pace]int{
			model.PaceRelaxed:   3,
			model.PaceModerate:  5,
			model.PaceIntensive: 7,
		},
		GreedyLambda:         0.02,
		GreedyMu:             0.01,
		MarginalUtilityFloor: 0.05,
		TwoOptIterationCap:   64,
		MaxStayShortenPct:    0.25,
		RepairRadiusExpand:   0.25,
		RepairLadderDepth:    5,
		RepairRetrieveLimit:  16,
		TravelProfile:        traveltime.ProfileDriving,
	}
}

// HoursRepository is the subset of catalog.Repository the Planner needs;
// catalog.Repository satisfies this structurally.
type HoursRepository interface {
	GetHours(ctx context.Context, placeIDs []string, weekday int) (map[string][]model.OpeningHours, error)
}

// SlotRetriever re-runs candidate retrieval when the repair ladder widens
// the search radius for a blocking slot. It may be nil, which skips that
// ladder step.
type SlotRetriever interface {
	RetrieveSlot(ctx context.Context, story *model.Story) ([]model.Candidate, error)
}

// Decision is returned instead of a feasible Itinerary when the repair
// ladder is exhausted.
type Decision struct {
	Violations []string
	Partial    []model.Itinerary // two or three partial options
}

// Planner is the constructive+local-search Planner's contract.
type Planner interface {
	Plan(ctx context.Context, story *model.Story, candidates []model.Candidate, hours HoursRepository, oracle traveltime.Oracle) (*model.Itinerary, *Decision, error)
}

type planner struct {
	cfg   Config
	slots SlotRetriever
}

// New constructs a Planner. slots may be nil when no retrieval collaborator
// is available; the repair ladder then skips its radius-expansion step.
func New(cfg Config, slots SlotRetriever) Planner {
	return &planner{cfg: cfg, slots: slots}
}

func (p *planner) Plan(ctx context.Context, story *model.Story, candidates []model.Candidate, hoursRepo HoursRepository, oracle traveltime.Oracle) (*model.Itinerary, *Decision, error) {
	if len(candidates) == 0 {
		return nil, nil, apperr.New(apperr.KindNoCandidates, "planner.Plan", "no candidates to plan over", nil)
	}

	mat, err := buildMatrix(ctx, story, candidates, oracle, p.cfg.TravelProfile)
	if err != nil {
		return nil, nil, apperr.New(apperr.KindBackendUnavailable, "planner.Plan", "travel matrix build failed", err)
	}

	state := &planState{
		story:      story,
		candidates: indexCandidates(candidates),
		rankedIDs:  rankedIDs(candidates),
		mat:        mat,
		hoursRepo:  hoursRepo,
		oracle:     oracle,
		slots:      p.slots,
		cfg:        p.cfg,
		used:       make(map[string]bool),
	}

	mustHaveDays := assignMustHaveDays(story, candidates, mat)

	days := make([]model.DayPlan, story.DayCount)
	for d := 0; d < story.DayCount; d++ {
		dp, err := state.planDay(ctx, d, mustHaveDays[d])
		if err != nil {
			return nil, nil, err
		}
		days[d] = dp
		for _, v := range dp.Visits {
			state.used[v.PlaceID] = true
		}
	}

	for d := range days {
		days[d] = state.refineDay(ctx, days[d])
	}

	if allDaysEmpty(days) {
		return nil, nil, apperr.New(apperr.KindNoCandidates, "planner.Plan", "every day came back empty", nil)
	}

	itinerary := &model.Itinerary{Days: days, Version: 1}

	if violations := checkMustHaveSatisfied(story, itinerary); len(violations) > 0 {
		repaired, decision, err := repair(ctx, state, itinerary, violations)
		if err != nil {
			return nil, nil, err
		}
		if decision != nil {
			return nil, decision, nil
		}
		itinerary = repaired
	}

	log.Debugf(ctx, "planner: produced %d-day itinerary", len(itinerary.Days))
	return itinerary, nil, nil
}

func allDaysEmpty(days []model.DayPlan) bool {
	for _, d := range days {
		if len(d.Visits) > 0 {
			return false
		}
	}
	return true
}

// indexCandidates returns candidates keyed by place id for O(1) lookup
// during construction.
func indexCandidates(candidates []model.Candidate) map[string]model.Candidate {
	out := make(map[string]model.Candidate, len(candidates))
	for _, c := range candidates {
		out[c.PlaceID] = c
	}
	return out
}

// rankedIDs preserves the reranker's score order, which the repair
// ladder's substitution step walks to find the "next-ranked" candidate.
func rankedIDs(candidates []model.Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.PlaceID
	}
	return out
}

// assignMustHaveDays picks each must-have's day by minimum estimated
// detour before any schedule exists: the insertion cost of a day is the
// matrix travel from that day's provisional anchor, which is the trip
// origin while the day is empty and otherwise the nearest must-have
// already assigned there. Ids are considered in rank order and ties go to
// the earlier day, so the assignment is deterministic; must-haves near one
// another cluster onto the same day instead of being scattered blind.
func assignMustHaveDays(story *model.Story, candidates []model.Candidate, mat *matrix) map[int][]string {
	out := make(map[int][]string)
	if story.DayCount < 1 {
		return out
	}
	mustSet := make(map[string]struct{})
	for _, m := range story.MustHave {
		if m.Kind == model.MustKindPlaceID {
			mustSet[m.Value] = struct{}{}
		}
	}
	var ids []string
	for _, c := range candidates {
		if _, ok := mustSet[c.PlaceID]; ok {
			ids = append(ids, c.PlaceID)
		}
	}

	for _, id := range ids {
		bestDay, bestCost := 0, -1
		for d := 0; d < story.DayCount; d++ {
			cost := 0
			if anchors := out[d]; len(anchors) == 0 {
				cost, _ = mat.travelMinutes(originID, id)
			} else {
				cost = -1
				for _, a := range anchors {
					if m, _ := mat.travelMinutes(a, id); cost == -1 || m < cost {
						cost = m
					}
				}
			}
			if bestCost == -1 || cost < bestCost {
				bestCost, bestDay = cost, d
			}
		}
		out[bestDay] = append(out[bestDay], id)
	}
	return out
}

// checkMustHaveSatisfied returns one violation string per must-have id not
// present anywhere in the itinerary; every such id must either be
// scheduled or cited back to the user in a Decision.
func checkMustHaveSatisfied(story *model.Story, it *model.Itinerary) []string {
	visited := it.VisitedPlaceIDs()
	var violations []string
	for _, m := range story.MustHave {
		if m.Kind != model.MustKindPlaceID {
			continue
		}
		if _, ok := visited[m.Value]; !ok {
			violations = append(violations, m.Value)
		}
	}
	return violations
}
