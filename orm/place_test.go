package orm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripcraft/planner/model"
)

func TestUpsertAndGetPlace(t *testing.T) {
	db := SetupTestDB(t)

	rating := 4.5
	p := model.Place{
		ID:             "p1",
		Name:           "National Museum",
		Point:          model.Point{Lat: 25.03, Lon: 121.52},
		Categories:     []string{"museum", "culture"},
		Tags:           []string{"indoor", "family"},
		DefaultStayMin: 90,
		Rating:         &rating,
	}

	require.NoError(t, UpsertPlace(db, p))

	got, err := GetPlace(db, "p1")
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, p.Categories, got.Categories)
	assert.Equal(t, p.Tags, got.Tags)
	assert.Equal(t, *p.Rating, *got.Rating)
}

func TestFindPlacesInBox(t *testing.T) {
	db := SetupTestDB(t)

	require.NoError(t, UpsertPlace(db, model.Place{ID: "in", Name: "In Box", Point: model.Point{Lat: 25.0, Lon: 121.5}, Categories: []string{"museum"}}))
	require.NoError(t, UpsertPlace(db, model.Place{ID: "out", Name: "Out Of Box", Point: model.Point{Lat: 40.0, Lon: 10.0}, Categories: []string{"museum"}}))

	box := BoundingBox{MinLat: 24.9, MaxLat: 25.1, MinLon: 121.4, MaxLon: 121.6}
	got, err := FindPlacesInBox(db, box, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "in", got[0].ID)
}

func TestFindPlacesInBoxCategoryFilter(t *testing.T) {
	db := SetupTestDB(t)

	require.NoError(t, UpsertPlace(db, model.Place{ID: "a", Name: "Museum", Point: model.Point{Lat: 25.0, Lon: 121.5}, Categories: []string{"museum"}}))
	require.NoError(t, UpsertPlace(db, model.Place{ID: "b", Name: "Cafe", Point: model.Point{Lat: 25.01, Lon: 121.51}, Categories: []string{"food"}}))

	box := BoundingBox{MinLat: 24.9, MaxLat: 25.1, MinLon: 121.4, MaxLon: 121.6}
	got, err := FindPlacesInBox(db, box, []string{"food"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestGetPlacesByID(t *testing.T) {
	db := SetupTestDB(t)

	require.NoError(t, UpsertPlace(db, model.Place{ID: "a", Name: "A"}))
	require.NoError(t, UpsertPlace(db, model.Place{ID: "b", Name: "B"}))
	require.NoError(t, UpsertPlace(db, model.Place{ID: "c", Name: "C"}))

	got, err := GetPlacesByID(db, []string{"a", "c"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
