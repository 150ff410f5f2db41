package planner

import (
	"context"

	"github.com/tripcraft/planner/log"
	"github.com/tripcraft/planner/model"
)

// repair walks the infeasibility ladder for every unplaced must-have id:
// plain insertion first, then in order a light 3-opt exchange, stay
// shortening, shifting a visit to an adjacent day, widening the retrieval
// radius, and substituting the blocking visit. Ids that survive every rung
// fall through to a Decision carrying partial options for the user.
func repair(ctx context.Context, state *planState, it *model.Itinerary, violations []string) (*model.Itinerary, *Decision, error) {
	days := cloneDays(it.Days)

	var stillMissing []string
	for _, placeID := range violations {
		if state.repairOne(ctx, days, placeID) {
			continue
		}
		stillMissing = append(stillMissing, placeID)
	}

	for d := range days {
		days[d] = state.refineDay(ctx, days[d])
	}

	if len(stillMissing) > 0 {
		return nil, state.buildDecision(ctx, days, stillMissing, it.Version), nil
	}
	return &model.Itinerary{Days: days, Version: it.Version}, nil, nil
}

// repairOne tries each ladder rung in order for one id, re-attempting the
// insertion after every rung that changed something, up to the configured
// depth.
func (s *planState) repairOne(ctx context.Context, days []model.DayPlan, placeID string) bool {
	if insertSomewhere(ctx, s, days, placeID) {
		return true
	}
	rungs := []func() bool{
		func() bool { return threeOptExchange(ctx, s, days) },
		func() bool { return shortenLongestStay(ctx, s, days) },
		func() bool { return shiftToAdjacentDay(ctx, s, days) },
		func() bool { return s.expandRadius(ctx) },
		func() bool { return s.substituteBlockingVisit(ctx, days, placeID) },
	}
	depth := s.cfg.RepairLadderDepth
	if depth <= 0 || depth > len(rungs) {
		depth = len(rungs)
	}
	for i := 0; i < depth; i++ {
		if rungs[i]() && insertSomewhere(ctx, s, days, placeID) {
			return true
		}
	}
	return false
}

// dayAnchor is the stop a day departs from: the last visit of the nearest
// earlier non-empty day, or the trip origin. Matches the anchor chaining
// construction uses.
func dayAnchor(days []model.DayPlan, d int) string {
	for p := d - 1; p >= 0; p-- {
		if n := len(days[p].Visits); n > 0 {
			return days[p].Visits[n-1].PlaceID
		}
	}
	return originID
}

// insertSomewhere tries every position in every day for placeID and
// commits the first one whose fully rebuilt day stays feasible, scanning
// days then positions ascending for determinism.
func insertSomewhere(ctx context.Context, s *planState, days []model.DayPlan, placeID string) bool {
	for d := range days {
		if insertIntoDay(ctx, s, days, d, placeID) {
			return true
		}
	}
	return false
}

// insertIntoDay attempts every insertion position in one day, validating
// the entire rebuilt day against opening hours and the daily window, not
// just the new visit's own slot.
func insertIntoDay(ctx context.Context, s *planState, days []model.DayPlan, d int, placeID string) bool {
	cand, ok := s.candidates[placeID]
	if !ok {
		return false
	}
	stay := cand.Place.DefaultStayMin
	if stay <= 0 {
		stay = 60
	}

	day := &days[d]
	weekday := int(s.story.StartDate.AddDate(0, 0, day.DayIndex).Weekday())
	hours, err := s.hoursRepo.GetHours(ctx, append(day.PlaceIDs(), placeID), weekday)
	if err != nil {
		return false
	}
	anchor := dayAnchor(days, d)
	newVisit := model.Visit{PlaceID: placeID, Name: cand.Place.Name, StayMin: stay}

	for pos := 0; pos <= len(day.Visits); pos++ {
		visits := make([]model.Visit, 0, len(day.Visits)+1)
		visits = append(visits, day.Visits[:pos]...)
		visits = append(visits, newVisit)
		visits = append(visits, day.Visits[pos:]...)

		rebuilt, feasible := rebuildSchedule(visits, s.mat, anchor, s.story.Daily.StartMin, hours, weekday, s.story.Daily.EndMin)
		if !feasible {
			continue
		}
		day.Visits = rebuilt
		s.used[placeID] = true
		return true
	}
	return false
}

// threeOptExchange makes one light 3-opt move: for each day it scans
// ordered position triples and applies the first cyclic exchange of those
// three visits that strictly reduces the day's travel while keeping the
// rebuilt schedule feasible. One accepted move per call is enough; the
// caller re-attempts its insertion right after.
func threeOptExchange(ctx context.Context, s *planState, days []model.DayPlan) bool {
	for d := range days {
		day := &days[d]
		n := len(day.Visits)
		if n < 3 {
			continue
		}
		weekday := int(s.story.StartDate.AddDate(0, 0, day.DayIndex).Weekday())
		hours, err := s.hoursRepo.GetHours(ctx, day.PlaceIDs(), weekday)
		if err != nil {
			continue
		}
		anchor := dayAnchor(days, d)
		current := travelTotal(day.Visits)

		for a := 0; a < n-2; a++ {
			for b := a + 1; b < n-1; b++ {
				for c := b + 1; c < n; c++ {
					visits := append([]model.Visit(nil), day.Visits...)
					visits[a], visits[b], visits[c] = visits[c], visits[a], visits[b]
					rebuilt, feasible := rebuildSchedule(visits, s.mat, anchor, s.story.Daily.StartMin, hours, weekday, s.story.Daily.EndMin)
					if !feasible || travelTotal(rebuilt) >= current {
						continue
					}
					day.Visits = rebuilt
					return true
				}
			}
		}
	}
	return false
}

// shortenLongestStay trims the longest-stay visit by up to
// MaxStayShortenPct and rebuilds its day; it only creates slack, the
// retried insertion decides whether the slack is enough.
func shortenLongestStay(ctx context.Context, s *planState, days []model.DayPlan) bool {
	bestDay, bestIdx, bestStay := -1, -1, 0
	for d := range days {
		for i, v := range days[d].Visits {
			if v.StayMin > bestStay {
				bestStay = v.StayMin
				bestDay, bestIdx = d, i
			}
		}
	}
	if bestDay == -1 || bestStay <= 0 {
		return false
	}
	cut := int(float64(bestStay) * s.cfg.MaxStayShortenPct)
	if cut <= 0 {
		return false
	}

	day := &days[bestDay]
	weekday := int(s.story.StartDate.AddDate(0, 0, day.DayIndex).Weekday())
	hours, err := s.hoursRepo.GetHours(ctx, day.PlaceIDs(), weekday)
	if err != nil {
		return false
	}
	visits := append([]model.Visit(nil), day.Visits...)
	visits[bestIdx].StayMin -= cut
	rebuilt, feasible := rebuildSchedule(visits, s.mat, dayAnchor(days, bestDay), s.story.Daily.StartMin, hours, weekday, s.story.Daily.EndMin)
	if !feasible {
		return false
	}
	day.Visits = rebuilt
	return true
}

// shiftToAdjacentDay moves the busiest day's lowest-utility optional visit
// to an adjacent day that can still absorb it, freeing room on the day
// most likely to be blocking.
func shiftToAdjacentDay(ctx context.Context, s *planState, days []model.DayPlan) bool {
	if len(days) < 2 {
		return false
	}
	busiest := busiestDay(days)
	day := &days[busiest]
	if len(day.Visits) == 0 {
		return false
	}
	victimIdx := lowestUtilityIndex(s, day.Visits)
	victim := day.Visits[victimIdx]
	if s.candidates[victim.PlaceID].IsMustHave {
		return false
	}

	weekday := int(s.story.StartDate.AddDate(0, 0, day.DayIndex).Weekday())
	hours, err := s.hoursRepo.GetHours(ctx, day.PlaceIDs(), weekday)
	if err != nil {
		return false
	}
	remaining := append(append([]model.Visit(nil), day.Visits[:victimIdx]...), day.Visits[victimIdx+1:]...)
	rebuilt, feasible := rebuildSchedule(remaining, s.mat, dayAnchor(days, busiest), s.story.Daily.StartMin, hours, weekday, s.story.Daily.EndMin)
	if !feasible {
		return false
	}

	saved := day.Visits
	day.Visits = rebuilt
	delete(s.used, victim.PlaceID)
	for _, d := range adjacentDays(busiest, len(days)) {
		if insertIntoDay(ctx, s, days, d, victim.PlaceID) {
			return true
		}
	}
	day.Visits = saved // no neighbor could take it; undo
	s.used[victim.PlaceID] = true
	return false
}

// expandRadius widens the story's search radius and folds newly retrieved
// candidates into the working set and travel matrix, giving the
// substitution rung more material to work with.
func (s *planState) expandRadius(ctx context.Context) bool {
	if s.slots == nil {
		return false
	}
	widened := *s.story
	widened.RadiusM = s.story.RadiusM * (1 + s.cfg.RepairRadiusExpand)
	extra, err := s.slots.RetrieveSlot(ctx, &widened)
	if err != nil {
		log.Warnf(ctx, "planner: widened retrieval failed: %v", err)
		return false
	}
	added := 0
	for _, c := range extra {
		if s.cfg.RepairRetrieveLimit > 0 && added >= s.cfg.RepairRetrieveLimit {
			break
		}
		if _, ok := s.candidates[c.PlaceID]; ok {
			continue
		}
		s.candidates[c.PlaceID] = c
		s.rankedIDs = append(s.rankedIDs, c.PlaceID)
		s.mat.addPoint(ctx, s.oracle, s.cfg.TravelProfile, c.PlaceID, c.Place.Point)
		added++
	}
	return added > 0
}

// substituteBlockingVisit swaps the busiest day's lowest-utility visit for
// the next-ranked unused candidate sharing at least one category or tag
// with it, which typically trades a long or distant stop for a nearer or
// shorter one and frees room for the id being repaired.
func (s *planState) substituteBlockingVisit(ctx context.Context, days []model.DayPlan, placeID string) bool {
	busiest := busiestDay(days)
	day := &days[busiest]
	if len(day.Visits) == 0 {
		return false
	}
	idx := lowestUtilityIndex(s, day.Visits)
	victim := day.Visits[idx]
	if s.candidates[victim.PlaceID].IsMustHave || victim.PlaceID == placeID {
		return false
	}

	sub, ok := s.nextRankedSharing(victim.PlaceID)
	if !ok {
		return false
	}
	stay := sub.Place.DefaultStayMin
	if stay <= 0 {
		stay = 60
	}

	weekday := int(s.story.StartDate.AddDate(0, 0, day.DayIndex).Weekday())
	visits := append([]model.Visit(nil), day.Visits...)
	visits[idx] = model.Visit{PlaceID: sub.PlaceID, Name: sub.Place.Name, StayMin: stay}
	ids := make([]string, len(visits))
	for i, v := range visits {
		ids[i] = v.PlaceID
	}
	hours, err := s.hoursRepo.GetHours(ctx, ids, weekday)
	if err != nil {
		return false
	}
	rebuilt, feasible := rebuildSchedule(visits, s.mat, dayAnchor(days, busiest), s.story.Daily.StartMin, hours, weekday, s.story.Daily.EndMin)
	if !feasible {
		return false
	}
	day.Visits = rebuilt
	delete(s.used, victim.PlaceID)
	s.used[sub.PlaceID] = true
	return true
}

// nextRankedSharing walks the rank order for the first unused candidate
// sharing a category or tag with the dropped place.
func (s *planState) nextRankedSharing(droppedID string) (model.Candidate, bool) {
	dropped := s.candidates[droppedID].Place
	for _, id := range s.rankedIDs {
		if id == droppedID || s.used[id] {
			continue
		}
		c := s.candidates[id]
		if sharesTagOrCategory(c.Place, dropped) {
			return c, true
		}
	}
	return model.Candidate{}, false
}

func sharesTagOrCategory(a, b model.Place) bool {
	set := make(map[string]struct{}, len(b.Categories)+len(b.Tags))
	for _, t := range b.Categories {
		set[t] = struct{}{}
	}
	for _, t := range b.Tags {
		set[t] = struct{}{}
	}
	for _, t := range a.Categories {
		if _, ok := set[t]; ok {
			return true
		}
	}
	for _, t := range a.Tags {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// buildDecision assembles the user-facing escalation: the ids that could
// not be placed plus two or three feasible partial options to choose
// between.
func (s *planState) buildDecision(ctx context.Context, days []model.DayPlan, missing []string, version int) *Decision {
	partials := []model.Itinerary{{Days: cloneDays(days), Version: version}}

	// Option two drops the lowest-utility optional stop from the busiest
	// day and re-attempts the first missing id, showing what the trade
	// would buy.
	alt := cloneDays(days)
	busiest := busiestDay(alt)
	if len(alt[busiest].Visits) > 0 {
		idx := lowestUtilityIndex(s, alt[busiest].Visits)
		victim := alt[busiest].Visits[idx]
		if !s.candidates[victim.PlaceID].IsMustHave {
			weekday := int(s.story.StartDate.AddDate(0, 0, alt[busiest].DayIndex).Weekday())
			remaining := append(append([]model.Visit(nil), alt[busiest].Visits[:idx]...), alt[busiest].Visits[idx+1:]...)
			if hours, err := s.hoursRepo.GetHours(ctx, alt[busiest].PlaceIDs(), weekday); err == nil {
				if rebuilt, feasible := rebuildSchedule(remaining, s.mat, dayAnchor(alt, busiest), s.story.Daily.StartMin, hours, weekday, s.story.Daily.EndMin); feasible {
					alt[busiest].Visits = rebuilt
					delete(s.used, victim.PlaceID)
					insertSomewhere(ctx, s, alt, missing[0])
					partials = append(partials, model.Itinerary{Days: alt, Version: version})
				}
			}
		}
	}

	// Option three is the must-have skeleton: the missing ids alone on
	// otherwise empty days, when at least one can be placed that way.
	skeleton := cloneDays(days)
	for d := range skeleton {
		skeleton[d].Visits = nil
	}
	placed := false
	for _, id := range missing {
		if insertSomewhere(ctx, s, skeleton, id) {
			placed = true
		}
	}
	if placed {
		partials = append(partials, model.Itinerary{Days: skeleton, Version: version})
	}

	return &Decision{Violations: missing, Partial: partials}
}

func cloneDays(days []model.DayPlan) []model.DayPlan {
	out := make([]model.DayPlan, len(days))
	for i, d := range days {
		out[i] = model.DayPlan{
			DayIndex:      d.DayIndex,
			Date:          d.Date,
			Visits:        append([]model.Visit(nil), d.Visits...),
			Accommodation: d.Accommodation,
		}
	}
	return out
}

func busiestDay(days []model.DayPlan) int {
	busiest := 0
	for d := range days {
		if days[d].TotalMinutes() > days[busiest].TotalMinutes() {
			busiest = d
		}
	}
	return busiest
}

func adjacentDays(idx, n int) []int {
	var out []int
	if idx > 0 {
		out = append(out, idx-1)
	}
	if idx+1 < n {
		out = append(out, idx+1)
	}
	return out
}

func lowestUtilityIndex(state *planState, visits []model.Visit) int {
	best := 0
	bestScore := 0.0
	for i, v := range visits {
		score := state.candidates[v.PlaceID].FinalScore
		if state.candidates[v.PlaceID].IsMustHave {
			score = 1e18 // never pick a must-have as the victim
		}
		if i == 0 || score < bestScore {
			bestScore = score
			best = i
		}
	}
	return best
}
