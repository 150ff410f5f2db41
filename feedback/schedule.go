package feedback

import (
	"context"
	"fmt"

	"github.com/tripcraft/planner/model"
	"github.com/tripcraft/planner/traveltime"
)

// flaggedInflation matches the planner's treatment of fallback estimates
// as lower bounds.
const flaggedInflation = 1.3

// travelTable memoizes pairwise travel minutes over the places a revision
// touches. The empty-string id stands for the trip anchor.
type travelTable struct {
	oracle  traveltime.Oracle
	profile traveltime.Profile
	anchor  model.Point
	points  map[string]model.Point
	memo    map[string]memoEntry
}

type memoEntry struct {
	minutes int
	flagged bool
}

func (e *Engine) newTravelTable(ctx context.Context, story *model.Story, it *model.Itinerary) (*travelTable, error) {
	ids := make([]string, 0)
	for id := range it.VisitedPlaceIDs() {
		ids = append(ids, id)
	}
	points := make(map[string]model.Point, len(ids))
	if len(ids) > 0 {
		places, err := e.catalog.GetPlaces(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("feedback: load itinerary places: %w", err)
		}
		for id, p := range places {
			points[id] = p.Point
		}
	}
	return &travelTable{
		oracle:  e.oracle,
		profile: e.cfg.TravelProfile,
		anchor:  story.Anchor,
		points:  points,
		memo:    make(map[string]memoEntry),
	}, nil
}

func (t *travelTable) minutes(ctx context.Context, fromID, toID string) (int, bool) {
	if fromID == toID {
		return 0, false
	}
	key := fromID + "->" + toID
	if m, ok := t.memo[key]; ok {
		return m.minutes, m.flagged
	}

	from, to := t.anchor, t.anchor
	if fromID != "" {
		p, ok := t.points[fromID]
		if !ok {
			return 0, false
		}
		from = p
	}
	if toID != "" {
		p, ok := t.points[toID]
		if !ok {
			return 0, false
		}
		to = p
	}

	r, _ := t.oracle.Duration(ctx, from, to, t.profile)
	sec := r.Seconds
	if r.EstimateFlagged {
		sec = int(float64(sec) * flaggedInflation)
	}
	m := memoEntry{minutes: (sec + 59) / 60, flagged: r.EstimateFlagged}
	t.memo[key] = m
	return m.minutes, m.flagged
}

// rebuildAll recomputes every day's ETAs/ETDs by walking visits in order
// from the daily start, chaining day anchors the way the planner does
// (each day starts from the previous day's last stop). An unpinned visit
// waits until its place opens; a pinned place id keeps its requested start
// time exactly as given so validation can flag a pin that lands before
// opening instead of the rebuild silently sliding it to a legal slot.
func (e *Engine) rebuildAll(ctx context.Context, tt *travelTable, story *model.Story, it *model.Itinerary, pins map[string]int) error {
	prevLast := ""
	for d := range it.Days {
		day := &it.Days[d]
		weekday := int(story.StartDate.AddDate(0, 0, day.DayIndex).Weekday())
		hours, err := e.catalog.GetHours(ctx, day.PlaceIDs(), weekday)
		if err != nil {
			return fmt.Errorf("feedback: load hours for rebuild: %w", err)
		}

		t := story.Daily.StartMin
		anchor := prevLast
		for i := range day.Visits {
			v := &day.Visits[i]
			travel, flagged := tt.minutes(ctx, anchor, v.PlaceID)
			arrival := t + travel
			eta := earliestOpenStart(hours[v.PlaceID], weekday, arrival, v.StayMin)
			if pin, ok := pins[v.PlaceID]; ok {
				eta = pin
			}
			v.ETAMin = eta
			v.ETDMin = eta + v.StayMin
			v.TravelMinIn = travel
			v.EstimateFlagged = flagged
			t = v.ETDMin
			anchor = v.PlaceID
		}
		if len(day.Visits) > 0 {
			prevLast = day.Visits[len(day.Visits)-1].PlaceID
		}
	}
	return nil
}

// earliestOpenStart returns the earliest start at or after arrival that
// fits [start, start+stay] inside one of the day's open intervals. With no
// hours on record the place counts as always open; with hours but no
// fitting interval the raw arrival comes back and validation reports the
// clash.
func earliestOpenStart(oh []model.OpeningHours, weekday, arrival, stay int) int {
	if len(oh) == 0 {
		return arrival
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
			eta := arrival
			if eta < open {
				eta = open
			}
			if eta+stay > close {
				continue
			}
			if best == -1 || eta < best {
				best = eta
			}
		}
	}
	if best == -1 {
		return arrival
	}
	return best
}

// reorderDay runs first-improvement 2-opt over one day's visit order,
// scanning segment lengths ascending then start index ascending, the same
// deterministic order the planner uses.
func reorderDay(ctx context.Context, tt *travelTable, day *model.DayPlan, iterationCap int) {
	n := len(day.Visits)
	if n < 3 {
		return
	}

	edge := func(i, j int) int {
		fromID := ""
		if i >= 0 {
			fromID = day.Visits[i].PlaceID
		}
		if j >= n {
			return 0
		}
		m, _ := tt.minutes(ctx, fromID, day.Visits[j].PlaceID)
		return m
	}

	iterations := 0
	improved := true
	for improved && iterations < iterationCap {
		improved = false
		for segLen := 2; segLen <= n-1 && !improved; segLen++ {
			for i := -1; i+segLen < n && !improved; i++ {
				j := i + segLen
				iterations++
				if iterations >= iterationCap {
					break
				}
				before := edge(i, i+1) + edge(j, j+1)
				var after int
				if i >= 0 {
					m, _ := tt.minutes(ctx, day.Visits[i].PlaceID, day.Visits[j].PlaceID)
					after += m
				} else {
					m, _ := tt.minutes(ctx, "", day.Visits[j].PlaceID)
					after += m
				}
				if j+1 < n {
					m, _ := tt.minutes(ctx, day.Visits[i+1].PlaceID, day.Visits[j+1].PlaceID)
					after += m
				}
				if after < before {
					for a, b := i+1, j; a < b; a, b = a+1, b-1 {
						day.Visits[a], day.Visits[b] = day.Visits[b], day.Visits[a]
					}
					improved = true
				}
			}
		}
	}
}
