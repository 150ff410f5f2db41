package api

import (
	"fmt"

	"github.com/tripcraft/planner/model"
)

// itineraryJSON is the wire shape of an itinerary: minute-of-day fields
// render as HH:MM strings.
type itineraryJSON struct {
	Days      []dayJSON `json:"days"`
	Version   int       `json:"version"`
	Truncated bool      `json:"truncated,omitempty"`
}

type dayJSON struct {
	Day           int         `json:"day"`
	Date          string      `json:"date"`
	Visits        []visitJSON `json:"visits"`
	Accommodation *string     `json:"accommodation,omitempty"`
}

type visitJSON struct {
	PlaceID       string `json:"place_id"`
	Name          string `json:"name"`
	ETA           string `json:"eta"`
	ETD           string `json:"etd"`
	TravelMinutes int    `json:"travel_minutes"`
	StayMinutes   int    `json:"stay_minutes"`
	Estimated     bool   `json:"estimated,omitempty"`
}

func itineraryToJSON(it *model.Itinerary) *itineraryJSON {
	if it == nil {
		return nil
	}
	out := &itineraryJSON{Version: it.Version, Truncated: it.Truncated, Days: make([]dayJSON, len(it.Days))}
	for i, d := range it.Days {
		day := dayJSON{
			Day:           d.DayIndex,
			Date:          d.Date.Format("2006-01-02"),
			Visits:        make([]visitJSON, len(d.Visits)),
			Accommodation: d.Accommodation,
		}
		for j, v := range d.Visits {
			day.Visits[j] = visitJSON{
				PlaceID:       v.PlaceID,
				Name:          v.Name,
				ETA:           minuteToHHMM(v.ETAMin),
				ETD:           minuteToHHMM(v.ETDMin),
				TravelMinutes: v.TravelMinIn,
				StayMinutes:   v.StayMin,
				Estimated:     v.EstimateFlagged,
			}
		}
		out.Days[i] = day
	}
	return out
}

type storyJSON struct {
	Destination string      `json:"destination"`
	StartDate   string      `json:"start_date"`
	DayCount    int         `json:"day_count"`
	DailyWindow windowJSON  `json:"daily_window"`
	Pace        string      `json:"pace"`
	Interests   []string    `json:"interests"`
	MustHave    []mustJSON  `json:"must_have"`
	MustNot     []mustJSON  `json:"must_not"`
	Budget      int         `json:"budget"`
}

type windowJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type mustJSON struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

func storyToJSON(s *model.Story) *storyJSON {
	if s == nil {
		return nil
	}
	return &storyJSON{
		Destination: s.Destination,
		StartDate:   s.StartDate.Format("2006-01-02"),
		DayCount:    s.DayCount,
		DailyWindow: windowJSON{Start: minuteToHHMM(s.Daily.StartMin), End: minuteToHHMM(s.Daily.EndMin)},
		Pace:        string(s.Pace),
		Interests:   s.Interests,
		MustHave:    mustToJSON(s.MustHave),
		MustNot:     mustToJSON(s.MustNot),
		Budget:      s.BudgetTier,
	}
}

func mustToJSON(entries []model.MustEntry) []mustJSON {
	out := make([]mustJSON, len(entries))
	for i, m := range entries {
		out[i] = mustJSON{Kind: string(m.Kind), Value: m.Value}
	}
	return out
}

func minuteToHHMM(min int) string {
	min = ((min % 1440) + 1440) % 1440
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}
