package model

import "testing"

func TestDayPlanTotalMinutes(t *testing.T) {
	d := DayPlan{Visits: []Visit{
		{TravelMinIn: 10, StayMin: 60},
		{TravelMinIn: 20, StayMin: 90},
	}}
	if got := d.TotalMinutes(); got != 180 {
		t.Fatalf("expected 180, got %d", got)
	}
}

func TestDayPlanPlaceIDs(t *testing.T) {
	d := DayPlan{Visits: []Visit{{PlaceID: "a"}, {PlaceID: "b"}}}
	ids := d.PlaceIDs()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestItineraryVisitedPlaceIDs(t *testing.T) {
	it := Itinerary{Days: []DayPlan{
		{Visits: []Visit{{PlaceID: "a"}, {PlaceID: "b"}}},
		{Visits: []Visit{{PlaceID: "b"}, {PlaceID: "c"}}},
	}}
	set := it.VisitedPlaceIDs()
	if len(set) != 3 {
		t.Fatalf("expected 3 distinct place ids, got %d", len(set))
	}
}

func TestItineraryCloneIsDeep(t *testing.T) {
	it := Itinerary{Days: []DayPlan{{Visits: []Visit{{PlaceID: "a"}}}}}
	clone := it.Clone()
	clone.Days[0].Visits[0].PlaceID = "mutated"
	if it.Days[0].Visits[0].PlaceID == "mutated" {
		t.Fatal("expected Clone to be independent of the original")
	}
}
