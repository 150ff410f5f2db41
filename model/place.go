// Package model holds the domain types shared across the planning pipeline:
// places, opening hours, the normalized trip Story, retrieval Candidates,
// and the Visit/DayPlan/Itinerary produced by the planner.
package model

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// Place is a read-only catalog entry. The core never writes to it.
type Place struct {
	ID               string
	Name             string
	Point            Point
	Categories       []string
	Tags             []string
	DefaultStayMin   int
	PriceTier        *int // 1-5, nil if unknown
	Rating           *float64
	FormattedAddress string
}

// Interval is a half-open [OpenMin, CloseMin) window in minutes-from-midnight
// for a single weekday. CloseMin <= OpenMin means the interval wraps past
// midnight into the next day.
type Interval struct {
	OpenMin  int
	CloseMin int
}

// Wraps reports whether the interval crosses midnight.
func (iv Interval) Wraps() bool {
	return iv.CloseMin <= iv.OpenMin
}

// OpeningHours is the set of open intervals for one place on one weekday.
// Weekday follows time.Weekday: 0 = Sunday ... 6 = Saturday, matching the
// store's convention. Multiple disjoint intervals per (place, weekday) are allowed.
type OpeningHours struct {
	PlaceID   string
	Weekday   int
	Intervals []Interval
}

// Contains reports whether [fromMin, toMin) fits entirely inside some
// interval of the day, accounting for overnight wrap. fromMin/toMin are
// minutes-from-midnight and may exceed 1440 to express "past midnight".
func (oh OpeningHours) Contains(fromMin, toMin int) bool {
	for _, iv := range oh.Intervals {
		open, close := iv.OpenMin, iv.CloseMin
		if iv.Wraps() {
			close += 1440
		}
		if fromMin >= open && toMin <= close {
			return true
		}
	}
	return false
}
