package model

import "time"

// Visit is a scheduled stop with arrival/departure times and stay duration
// on a specific day.
type Visit struct {
	PlaceID        string
	Name           string
	ETAMin         int // minute-of-day
	ETDMin         int // minute-of-day; ETDMin = ETAMin + StayMin
	TravelMinIn    int // travel time from the previous stop
	StayMin        int
	EstimateFlagged bool // true if TravelMinIn came from a fallback estimate
}

// DayPlan is one day's ordered sequence of visits.
type DayPlan struct {
	DayIndex      int // 0-based
	Date          time.Time
	Visits        []Visit
	Accommodation *string // place id or free text, optional
}

// TotalMinutes sums travel + stay across the day's visits.
func (d DayPlan) TotalMinutes() int {
	total := 0
	for _, v := range d.Visits {
		total += v.TravelMinIn + v.StayMin
	}
	return total
}

// PlaceIDs returns the ordered set of place ids visited this day.
func (d DayPlan) PlaceIDs() []string {
	ids := make([]string, len(d.Visits))
	for i, v := range d.Visits {
		ids[i] = v.PlaceID
	}
	return ids
}

// Itinerary is the trip-level ordered sequence of DayPlans.
type Itinerary struct {
	Days      []DayPlan
	Truncated bool // set when a turn deadline forced a partial result
	Version   int  // incremented by each Feedback application
}

// VisitedPlaceIDs returns the set of every place id scheduled anywhere in
// the itinerary.
func (it Itinerary) VisitedPlaceIDs() map[string]struct{} {
	set := make(map[string]struct{})
	for _, d := range it.Days {
		for _, v := range d.Visits {
			set[v.PlaceID] = struct{}{}
		}
	}
	return set
}

// Clone returns a deep copy so the Feedback Engine can mutate a candidate
// next version without touching the committed itinerary.
func (it Itinerary) Clone() Itinerary {
	days := make([]DayPlan, len(it.Days))
	for i, d := range it.Days {
		visits := make([]Visit, len(d.Visits))
		copy(visits, d.Visits)
		days[i] = DayPlan{
			DayIndex:      d.DayIndex,
			Date:          d.Date,
			Visits:        visits,
			Accommodation: d.Accommodation,
		}
	}
	return Itinerary{Days: days, Truncated: it.Truncated, Version: it.Version}
}
