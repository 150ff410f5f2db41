package planner

import (
	"context"

	"github.com/tripcraft/planner/model"
	"github.com/tripcraft/planner/traveltime"
)

// planState holds the inputs and cross-day bookkeeping the greedy
// construction needs.
type planState struct {
	story      *model.Story
	candidates map[string]model.Candidate
	rankedIDs  []string // candidate ids in reranker score order
	mat        *matrix
	hoursRepo  HoursRepository
	oracle     traveltime.Oracle
	slots      SlotRetriever // nil skips the radius-expansion repair step
	cfg        Config
	used       map[string]bool // globally scheduled place ids, across all days

	lastAnchor string // previous day's final visit id, "" if none yet
}

// planDay greedily constructs one day's visit sequence under the daily
// budget, opening-hours, and must-have constraints.
func (s *planState) planDay(ctx context.Context, dayIdx int, mustHaveIDs []string) (model.DayPlan, error) {
	weekday := int(s.story.StartDate.AddDate(0, 0, dayIdx).Weekday())
	date := s.story.StartDate.AddDate(0, 0, dayIdx)

	remainingIDs := make([]string, 0, len(s.candidates))
	for id := range s.candidates {
		if !s.used[id] {
			remainingIDs = append(remainingIDs, id)
		}
	}
	hours, err := s.hoursRepo.GetHours(ctx, remainingIDs, weekday)
	if err != nil {
		return model.DayPlan{}, err
	}

	anchorID := originID
	if s.lastAnchor != "" {
		anchorID = s.lastAnchor
	}

	target := s.cfg.PaceTargets[s.story.Pace]
	if target <= 0 {
		target = 5
	}

	day := model.DayPlan{DayIndex: dayIdx, Date: date}
	t := s.story.Daily.StartMin
	dayEnd := s.story.Daily.EndMin
	usedToday := make(map[string]bool)

	// Must-haves assigned to this day are attempted first, in assignment
	// order, ahead of the marginal-utility scan, so a tight window is
	// never lost to a higher-scoring optional stop filling the slot.
	for _, id := range mustHaveIDs {
		if s.used[id] || usedToday[id] {
			continue
		}
		v, ok := s.tryVisit(anchorID, id, t, dayEnd, hours[id], weekday)
		if !ok {
			continue
		}
		day.Visits = append(day.Visits, v)
		usedToday[id] = true
		anchorID = id
		t = v.ETDMin
	}

	for len(day.Visits) < target*4 { // hard upper bound against pathological loops
		bestID := ""
		var bestVisit model.Visit
		bestUtility := -1.0

		for id := range s.candidates {
			if s.used[id] || usedToday[id] {
				continue
			}
			v, ok := s.tryVisit(anchorID, id, t, dayEnd, hours[id], weekday)
			if !ok {
				continue
			}
			wait := 0
			if v.ETAMin > t+v.TravelMinIn {
				wait = v.ETAMin - (t + v.TravelMinIn)
			}
			cand := s.candidates[id]
			utility := cand.FinalScore - s.cfg.GreedyLambda*float64(v.TravelMinIn) - s.cfg.GreedyMu*float64(wait)
			if bestID == "" || utility > bestUtility {
				bestUtility = utility
				bestID = id
				bestVisit = v
			}
		}

		if bestID == "" {
			break
		}
		if len(day.Visits) >= target && bestUtility < s.cfg.MarginalUtilityFloor {
			break
		}

		day.Visits = append(day.Visits, bestVisit)
		usedToday[bestID] = true
		anchorID = bestID
		t = bestVisit.ETDMin
	}

	if len(day.Visits) > 0 {
		s.lastAnchor = day.Visits[len(day.Visits)-1].PlaceID
	}
	return day, nil
}

// tryVisit computes the feasible visit record for scheduling candidate id
// right after anchorID at time t, or false if no opening-hours window
// lets it fit before dayEnd.
func (s *planState) tryVisit(anchorID, id string, t, dayEnd int, oh []model.OpeningHours, weekday int) (model.Visit, bool) {
	cand, ok := s.candidates[id]
	if !ok {
		return model.Visit{}, false
	}
	travel, flagged := s.mat.travelMinutes(anchorID, id)
	arrival := t + travel
	if arrival > dayEnd {
		return model.Visit{}, false
	}

	stay := cand.Place.DefaultStayMin
	if stay <= 0 {
		stay = 60
	}

	eta, ok := earliestFeasibleStart(oh, weekday, arrival, stay, dayEnd)
	if !ok {
		return model.Visit{}, false
	}

	return model.Visit{
		PlaceID:         id,
		Name:            cand.Place.Name,
		ETAMin:          eta,
		ETDMin:          eta + stay,
		TravelMinIn:     travel,
		StayMin:         stay,
		EstimateFlagged: flagged,
	}, true
}

// earliestFeasibleStart finds the smallest eta >= arrivalMin at which a
// [eta, eta+stayMin) visit fits inside one of the place's open intervals
// for weekday without running past dayEnd. A place with no hours record at all (the catalog carries
// none) is treated as open all day; a place with hours on other weekdays
// but none on this one is treated as closed.
func earliestFeasibleStart(oh []model.OpeningHours, weekday, arrivalMin, stayMin, dayEnd int) (int, bool) {
	if len(oh) == 0 {
		etd := arrivalMin + stayMin
		if etd > dayEnd {
			return 0, false
		}
		return arrivalMin, true
	}

	best := -1
	for _, day := range oh {
		if day.Weekday != weekday {
			continue
		}
		for _, iv := range day.Intervals {
			open, close := iv.OpenMin, iv.CloseMin
			if iv.Wraps() {
				close += 1440
			}
			eta := arrivalMin
			if eta < open {
				eta = open
			}
			etd := eta + stayMin
			if etd > close || etd > dayEnd {
				continue
			}
			if best == -1 || eta < best {
				best = eta
			}
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}
