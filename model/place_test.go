package model

import "testing"

func TestOpeningHoursContainsSimple(t *testing.T) {
	oh := OpeningHours{Weekday: 1, Intervals: []Interval{{OpenMin: 540, CloseMin: 1020}}}
	if !oh.Contains(600, 700) {
		t.Fatal("expected 10:00-11:40 to be contained in a 09:00-17:00 window")
	}
	if oh.Contains(400, 500) {
		t.Fatal("did not expect a window entirely before opening to be contained")
	}
}

func TestOpeningHoursContainsOvernightWrap(t *testing.T) {
	// A bar open 22:00 to 02:00 next day.
	oh := OpeningHours{Weekday: 5, Intervals: []Interval{{OpenMin: 1320, CloseMin: 120}}}
	if !oh.Intervals[0].Wraps() {
		t.Fatal("expected interval to be detected as wrapping")
	}
	if !oh.Contains(1350, 1410) {
		t.Fatal("expected 22:30-23:30 to be contained in the wrapped window")
	}
	if !oh.Contains(1440, 1470) {
		t.Fatal("expected 00:00-00:30 (next day, represented as minutes past 1440) to be contained")
	}
}

func TestOpeningHoursContainsSplitRows(t *testing.T) {
	// The two-row representation of a lunch-break closure; both rows share
	// a weekday, each independently checked.
	morning := OpeningHours{Weekday: 2, Intervals: []Interval{{OpenMin: 540, CloseMin: 720}}}
	afternoon := OpeningHours{Weekday: 2, Intervals: []Interval{{OpenMin: 780, CloseMin: 1020}}}
	if morning.Contains(730, 760) {
		t.Fatal("did not expect the lunch break to be covered by the morning row")
	}
	if !afternoon.Contains(800, 830) {
		t.Fatal("expected 13:20-13:50 to be covered by the afternoon row")
	}
}
