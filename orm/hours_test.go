package orm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripcraft/planner/model"
)

func TestReplaceAndGetHours(t *testing.T) {
	db := SetupTestDB(t)
	require.NoError(t, UpsertPlace(db, model.Place{ID: "p1", Name: "Museum"}))

	hours := []model.OpeningHours{
		{PlaceID: "p1", Weekday: 1, Intervals: []model.Interval{{OpenMin: 540, CloseMin: 1020}}},
		{PlaceID: "p1", Weekday: 2, Intervals: []model.Interval{{OpenMin: 540, CloseMin: 720}, {OpenMin: 780, CloseMin: 1020}}},
	}
	require.NoError(t, ReplaceHoursForPlace(db, "p1", hours))

	got, err := GetHoursForPlaces(db, []string{"p1"})
	require.NoError(t, err)
	require.Len(t, got["p1"], 2)

	var mondayIntervals, tuesdayIntervals int
	for _, h := range got["p1"] {
		if h.Weekday == 1 {
			mondayIntervals = len(h.Intervals)
		}
		if h.Weekday == 2 {
			tuesdayIntervals = len(h.Intervals)
		}
	}
	assert.Equal(t, 1, mondayIntervals)
	assert.Equal(t, 2, tuesdayIntervals)
}

func TestReplaceHoursForPlaceClearsPrior(t *testing.T) {
	db := SetupTestDB(t)
	require.NoError(t, UpsertPlace(db, model.Place{ID: "p1", Name: "Museum"}))

	require.NoError(t, ReplaceHoursForPlace(db, "p1", []model.OpeningHours{
		{PlaceID: "p1", Weekday: 1, Intervals: []model.Interval{{OpenMin: 0, CloseMin: 100}}},
	}))
	require.NoError(t, ReplaceHoursForPlace(db, "p1", []model.OpeningHours{
		{PlaceID: "p1", Weekday: 3, Intervals: []model.Interval{{OpenMin: 600, CloseMin: 700}}},
	}))

	got, err := GetHoursForPlaces(db, []string{"p1"})
	require.NoError(t, err)
	require.Len(t, got["p1"], 1)
	assert.Equal(t, 3, got["p1"][0].Weekday)
}

func TestGetHoursForPlacesEmptyInput(t *testing.T) {
	db := SetupTestDB(t)
	got, err := GetHoursForPlaces(db, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}
