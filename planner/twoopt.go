package planner

import (
	"context"

	"github.com/tripcraft/planner/model"
)

// refineDay runs 2-opt over one constructed day, loading the day's opening
// hours first so a reversal cannot shuffle a visit outside its window. A
// hours lookup failure keeps the greedy order; refinement is optional,
// feasibility is not.
func (s *planState) refineDay(ctx context.Context, day model.DayPlan) model.DayPlan {
	if len(day.Visits) < 4 {
		return day
	}
	weekday := int(s.story.StartDate.AddDate(0, 0, day.DayIndex).Weekday())
	hours, err := s.hoursRepo.GetHours(ctx, day.PlaceIDs(), weekday)
	if err != nil {
		return day
	}
	return twoOpt(day, s.mat, s.cfg.TwoOptIterationCap, hours, weekday, s.story.Daily.StartMin, s.story.Daily.EndMin)
}

// twoOpt refines a single day's visit order with first-improvement 2-opt:
// segment lengths are scanned ascending, then start index ascending, so
// the same input always explores moves in the same sequence. A reversal is
// accepted only when it strictly shortens total travel AND the rebuilt
// schedule keeps every visit inside its opening window and the daily
// window; a move that saves travel but pushes an interior stop out of
// hours is rejected, not just one that overruns the day's end.
func twoOpt(day model.DayPlan, mat *matrix, iterationCap int, oh map[string][]model.OpeningHours, weekday, dayStart, dayEnd int) model.DayPlan {
	n := len(day.Visits)
	if n < 4 {
		return day
	}

	visits := make([]model.Visit, n)
	copy(visits, day.Visits)

	iterations := 0
	improved := true
	for improved && iterations < iterationCap {
		improved = false
		for segLen := 2; segLen < n && !improved; segLen++ {
			for i := 0; i+segLen < n && !improved; i++ {
				j := i + segLen
				iterations++
				if iterations >= iterationCap {
					break
				}
				if travelDelta(visits, mat, i, j) >= 0 {
					continue
				}
				reverse(visits, i+1, j)
				rebuilt, ok := rebuildSchedule(visits, mat, "", dayStart, oh, weekday, dayEnd)
				if !ok {
					reverse(visits, i+1, j) // undo: cheaper travel is not worth a broken window
					continue
				}
				visits = rebuilt
				improved = true
			}
		}
	}

	out := day
	out.Visits = visits
	return out
}

// travelDelta returns the change in total travel if the segment (i, j]
// were reversed: the edges i->i+1 and j->j+1 are replaced by i->j and
// i+1->j+1. Negative means the reversal shortens the path.
func travelDelta(visits []model.Visit, mat *matrix, i, j int) int {
	removed := edgeMinutes(mat, visits[i].PlaceID, visits[i+1].PlaceID)
	added := edgeMinutes(mat, visits[i].PlaceID, visits[j].PlaceID)
	if j+1 < len(visits) {
		removed += edgeMinutes(mat, visits[j].PlaceID, visits[j+1].PlaceID)
		added += edgeMinutes(mat, visits[i+1].PlaceID, visits[j+1].PlaceID)
	}
	return added - removed
}

func edgeMinutes(mat *matrix, fromID, toID string) int {
	m, _ := mat.travelMinutes(fromID, toID)
	return m
}

func reverse(visits []model.Visit, i, j int) {
	for i < j {
		visits[i], visits[j] = visits[j], visits[i]
		i++
		j--
	}
}

// travelTotal sums a sequence's travel-in minutes.
func travelTotal(visits []model.Visit) int {
	total := 0
	for _, v := range visits {
		total += v.TravelMinIn
	}
	return total
}

// rebuildSchedule walks a reordered visit sequence from dayStart,
// recomputing each leg's travel from the matrix and waiting for a place to
// open where needed (the same earliest-feasible-start rule construction
// uses). anchorID is the stop the day departs from; the empty string means
// position 0 did not move, so its stored travel-in leg still applies. It
// reports false when any visit no longer fits an open interval before
// dayEnd.
func rebuildSchedule(visits []model.Visit, mat *matrix, anchorID string, dayStart int, oh map[string][]model.OpeningHours, weekday, dayEnd int) ([]model.Visit, bool) {
	t := dayStart
	anchor := anchorID
	rebuilt := make([]model.Visit, len(visits))
	for i, v := range visits {
		travel, flagged := v.TravelMinIn, v.EstimateFlagged
		if i > 0 || anchor != "" {
			if i > 0 {
				anchor = rebuilt[i-1].PlaceID
			}
			travel, flagged = mat.travelMinutes(anchor, v.PlaceID)
		}
		arrival := t + travel
		eta, ok := earliestFeasibleStart(oh[v.PlaceID], weekday, arrival, v.StayMin, dayEnd)
		if !ok {
			return nil, false
		}
		rebuilt[i] = model.Visit{
			PlaceID:         v.PlaceID,
			Name:            v.Name,
			ETAMin:          eta,
			ETDMin:          eta + v.StayMin,
			TravelMinIn:     travel,
			StayMin:         v.StayMin,
			EstimateFlagged: flagged,
		}
		t = rebuilt[i].ETDMin
	}
	return rebuilt, true
}
