package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tripcraft/planner/model"
	"github.com/tripcraft/planner/orm"
)

// newTestRepo returns a Repository and the underlying *gorm.DB so tests
// can seed rows with the orm package's own helpers.
func newTestRepo(t *testing.T) (Repository, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, orm.Migrate(db))
	return NewRepository(db), db
}

func TestHaversineMRoundTrip(t *testing.T) {
	taipei101 := model.Point{Lat: 25.0340, Lon: 121.5645}
	d := haversineM(taipei101, taipei101)
	assert.InDelta(t, 0, d, 1e-6)
}

func TestFindPlacesFiltersByRadiusAndCategory(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	center := model.Point{Lat: 25.03, Lon: 121.56}
	require.NoError(t, orm.UpsertPlace(db, model.Place{
		ID: "near-museum", Name: "Near Museum", Point: model.Point{Lat: 25.031, Lon: 121.561}, Categories: []string{"museum"},
	}))
	require.NoError(t, orm.UpsertPlace(db, model.Place{
		ID: "far-museum", Name: "Far Museum", Point: model.Point{Lat: 26.5, Lon: 123.0}, Categories: []string{"museum"},
	}))
	require.NoError(t, orm.UpsertPlace(db, model.Place{
		ID: "near-cafe", Name: "Near Cafe", Point: model.Point{Lat: 25.029, Lon: 121.559}, Categories: []string{"food"},
	}))

	got, err := repo.FindPlaces(ctx, FindPlacesQuery{Center: center, RadiusM: 2000, Categories: []string{"museum"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "near-museum", got[0].PlaceID)
}

func TestFindPlacesMinRatingFilter(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	hi, lo := 4.8, 2.0
	center := model.Point{Lat: 25.03, Lon: 121.56}
	require.NoError(t, orm.UpsertPlace(db, model.Place{ID: "good", Point: center, Rating: &hi}))
	require.NoError(t, orm.UpsertPlace(db, model.Place{ID: "bad", Point: center, Rating: &lo}))
	require.NoError(t, orm.UpsertPlace(db, model.Place{ID: "unrated", Point: center}))

	minRating := 4.0
	got, err := repo.FindPlaces(ctx, FindPlacesQuery{Center: center, RadiusM: 1000, MinRating: &minRating})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "good", got[0].PlaceID)
}

func TestFindPlacesOpenAtFilter(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	center := model.Point{Lat: 25.03, Lon: 121.56}
	require.NoError(t, orm.UpsertPlace(db, model.Place{ID: "open9to5", Point: center}))
	require.NoError(t, orm.ReplaceHoursForPlace(db, "open9to5", []model.OpeningHours{
		{PlaceID: "open9to5", Weekday: 1, Intervals: []model.Interval{{OpenMin: 540, CloseMin: 1020}}},
	}))
	require.NoError(t, orm.UpsertPlace(db, model.Place{ID: "closed-then", Point: center}))
	require.NoError(t, orm.ReplaceHoursForPlace(db, "closed-then", []model.OpeningHours{
		{PlaceID: "closed-then", Weekday: 1, Intervals: []model.Interval{{OpenMin: 0, CloseMin: 300}}},
	}))

	openAt := 600
	got, err := repo.FindPlaces(ctx, FindPlacesQuery{Center: center, RadiusM: 1000, Weekday: 1, OpenAt: &openAt})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "open9to5", got[0].PlaceID)
}

func TestGetHoursFiltersByWeekday(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, orm.UpsertPlace(db, model.Place{ID: "p1"}))
	require.NoError(t, orm.ReplaceHoursForPlace(db, "p1", []model.OpeningHours{
		{PlaceID: "p1", Weekday: 1, Intervals: []model.Interval{{OpenMin: 540, CloseMin: 1020}}},
		{PlaceID: "p1", Weekday: 2, Intervals: []model.Interval{{OpenMin: 540, CloseMin: 1020}}},
	}))

	got, err := repo.GetHours(ctx, []string{"p1"}, 2)
	require.NoError(t, err)
	require.Len(t, got["p1"], 1)
	assert.Equal(t, 2, got["p1"][0].Weekday)

	// Rows exist for p1 but none on Friday: the entry comes back with no
	// intervals, meaning closed that day rather than unknown.
	closed, err := repo.GetHours(ctx, []string{"p1"}, 5)
	require.NoError(t, err)
	require.Len(t, closed["p1"], 1)
	assert.Empty(t, closed["p1"][0].Intervals)
}
