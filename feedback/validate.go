package feedback

import (
	"context"
	"fmt"
	"strings"

	"github.com/tripcraft/planner/model"
)

// Validate checks a candidate itinerary against every invariant a
// committed itinerary must satisfy: visit arithmetic, sequential
// consistency, the daily window, opening hours, cross-day uniqueness, and
// the story's exclusion constraints. It returns one human-readable string
// per violation, empty when the itinerary is sound.
func (e *Engine) Validate(ctx context.Context, story *model.Story, it *model.Itinerary) ([]string, error) {
	var violations []string

	seen := make(map[string]int) // place id -> day index first seen
	for _, day := range it.Days {
		weekday := int(story.StartDate.AddDate(0, 0, day.DayIndex).Weekday())

		ids := day.PlaceIDs()
		hours, err := e.catalog.GetHours(ctx, ids, weekday)
		if err != nil {
			return nil, fmt.Errorf("feedback: load hours: %w", err)
		}

		prevETD := story.Daily.StartMin
		for _, v := range day.Visits {
			if v.ETDMin != v.ETAMin+v.StayMin {
				violations = append(violations, fmt.Sprintf("%s: departure %s is not arrival plus stay", v.Name, minuteHHMM(v.ETDMin)))
			}
			if v.ETAMin < prevETD+v.TravelMinIn {
				violations = append(violations, fmt.Sprintf("%s: arrival %s is before travel from the previous stop completes", v.Name, minuteHHMM(v.ETAMin)))
			}
			if v.ETDMin > story.Daily.EndMin {
				violations = append(violations, fmt.Sprintf("%s: departure %s runs past the day's end %s", v.Name, minuteHHMM(v.ETDMin), minuteHHMM(story.Daily.EndMin)))
			}
			if oh := hours[v.PlaceID]; len(oh) > 0 && !openContains(oh, weekday, v.ETAMin, v.ETDMin) {
				violations = append(violations, hoursViolation(v, oh, weekday))
			}
			if firstDay, dup := seen[v.PlaceID]; dup && firstDay != day.DayIndex {
				violations = append(violations, fmt.Sprintf("%s appears on both day %d and day %d", v.Name, firstDay+1, day.DayIndex+1))
			}
			seen[v.PlaceID] = day.DayIndex
			prevETD = v.ETDMin
		}

		budget := story.Daily.EndMin - story.Daily.StartMin
		if day.TotalMinutes() > budget {
			violations = append(violations, fmt.Sprintf("day %d needs %d minutes but the window allows %d", day.DayIndex+1, day.TotalMinutes(), budget))
		}
	}

	mustNot, err := e.mustNotViolations(ctx, story, it)
	if err != nil {
		return nil, err
	}
	violations = append(violations, mustNot...)

	return violations, nil
}

// openContains reports whether some open interval for weekday contains
// [eta, etd], honoring overnight wrap.
func openContains(oh []model.OpeningHours, weekday, eta, etd int) bool {
	for _, day := range oh {
		if day.Weekday != weekday {
			continue
		}
		if day.Contains(eta, etd) {
			return true
		}
	}
	return false
}

// hoursViolation renders the specific clash, e.g. "Place X closes at
// 16:00; a 17:30 departure does not fit".
func hoursViolation(v model.Visit, oh []model.OpeningHours, weekday int) string {
	for _, day := range oh {
		if day.Weekday != weekday {
			continue
		}
		for _, iv := range day.Intervals {
			if v.ETAMin < iv.OpenMin {
				return fmt.Sprintf("%s opens at %s; a %s arrival is too early", v.Name, minuteHHMM(iv.OpenMin), minuteHHMM(v.ETAMin))
			}
		}
		for _, iv := range day.Intervals {
			close := iv.CloseMin
			if iv.Wraps() {
				close += 1440
			}
			if v.ETDMin > close {
				return fmt.Sprintf("%s closes at %s; a %s departure does not fit", v.Name, minuteHHMM(iv.CloseMin), minuteHHMM(v.ETDMin))
			}
		}
	}
	return fmt.Sprintf("%s is closed at the scheduled time", v.Name)
}

// mustNotViolations reports visits whose place matches any must-not term
// or id from the story.
func (e *Engine) mustNotViolations(ctx context.Context, story *model.Story, it *model.Itinerary) ([]string, error) {
	if len(story.MustNot) == 0 {
		return nil, nil
	}

	ids := make([]string, 0)
	for id := range it.VisitedPlaceIDs() {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	places, err := e.catalog.GetPlaces(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("feedback: load places for exclusion check: %w", err)
	}

	terms := make(map[string]struct{})
	excludedIDs := make(map[string]struct{})
	for _, m := range story.MustNot {
		if m.Kind == model.MustKindPlaceID {
			excludedIDs[m.Value] = struct{}{}
		} else {
			terms[strings.ToLower(m.Value)] = struct{}{}
		}
	}

	var violations []string
	for _, day := range it.Days {
		for _, v := range day.Visits {
			if _, ok := excludedIDs[v.PlaceID]; ok {
				violations = append(violations, fmt.Sprintf("%s was explicitly excluded", v.Name))
				continue
			}
			p, ok := places[v.PlaceID]
			if !ok {
				continue
			}
			if matchesTerm(p, terms) {
				violations = append(violations, fmt.Sprintf("%s matches an excluded category", v.Name))
			}
		}
	}
	return violations, nil
}

func matchesTerm(p model.Place, terms map[string]struct{}) bool {
	for _, t := range p.Tags {
		if _, ok := terms[strings.ToLower(t)]; ok {
			return true
		}
	}
	for _, c := range p.Categories {
		if _, ok := terms[strings.ToLower(c)]; ok {
			return true
		}
	}
	_, ok := terms[strings.ToLower(p.Name)]
	return ok
}

func minuteHHMM(min int) string {
	min = ((min % 1440) + 1440) % 1440
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}
