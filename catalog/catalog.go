// Package catalog is the structured half of retrieval: it answers
// find_places and get_hours against the persisted place/hours tables,
// applying the exact-radius haversine filter the ORM's bounding-box
// pre-filter only approximates.
package catalog

import (
	"context"
	"math"
	"sort"

	"gorm.io/gorm"

	"github.com/tripcraft/planner/model"
	"github.com/tripcraft/planner/orm"
)

// earthRadiusM is the mean Earth radius used for haversine distance.
const earthRadiusM = 6371000.0

// FindPlacesQuery is the structured-retrieval branch's search request.
type FindPlacesQuery struct {
	Center     model.Point
	RadiusM    float64
	Categories []string
	Tags       []string
	MinRating  *float64
	MaxPrice   *int
	Weekday    int  // 0 = Sunday
	OpenAt     *int // minute-of-day; nil skips the open-at filter
}

// Repository is the Catalog's contract, implemented here against gorm and
// mockable in retrieval/planner tests without a real database.
type Repository interface {
	// FindPlaces returns every place matching q, sorted by ascending
	// distance from q.Center.
	FindPlaces(ctx context.Context, q FindPlacesQuery) ([]model.Candidate, error)
	// GetHours returns the opening-hours rows for a batch of place ids on
	// the given weekday, keyed by place id.
	GetHours(ctx context.Context, placeIDs []string, weekday int) (map[string][]model.OpeningHours, error)
	// GetPlaces loads full place records by id.
	GetPlaces(ctx context.Context, placeIDs []string) (map[string]model.Place, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository constructs a gorm-backed Repository.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindPlaces(ctx context.Context, q FindPlacesQuery) ([]model.Candidate, error) {
	box := boundingBox(q.Center, q.RadiusM)
	places, err := orm.FindPlacesInBox(r.db.WithContext(ctx), box, q.Categories)
	if err != nil {
		return nil, err
	}

	var hours map[string][]model.OpeningHours
	if q.OpenAt != nil {
		ids := make([]string, len(places))
		for i, p := range places {
			ids[i] = p.ID
		}
		hours, err = orm.GetHoursForPlaces(r.db.WithContext(ctx), ids)
		if err != nil {
			return nil, err
		}
	}

	candidates := make([]model.Candidate, 0, len(places))
	for _, p := range places {
		d := haversineM(q.Center, p.Point)
		if d > q.RadiusM {
			continue
		}
		if q.MinRating != nil && (p.Rating == nil || *p.Rating < *q.MinRating) {
			continue
		}
		if q.MaxPrice != nil && p.PriceTier != nil && *p.PriceTier > *q.MaxPrice {
			continue
		}
		if len(q.Tags) > 0 && !hasAnyTag(p.Tags, q.Tags) {
			continue
		}
		if q.OpenAt != nil && !openAtWeekday(hours[p.ID], q.Weekday, *q.OpenAt) {
			continue
		}
		candidates = append(candidates, model.Candidate{
			PlaceID:   p.ID,
			Place:     p,
			Rating:    p.Rating,
			DistanceM: d,
		})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].DistanceM < candidates[j].DistanceM })
	return candidates, nil
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

func openAtWeekday(hours []model.OpeningHours, weekday, minuteOfDay int) bool {
	for _, h := range hours {
		if h.Weekday != weekday {
			continue
		}
		if h.Contains(minuteOfDay, minuteOfDay) {
			return true
		}
	}
	return false
}

func (r *gormRepository) GetHours(ctx context.Context, placeIDs []string, weekday int) (map[string][]model.OpeningHours, error) {
	all, err := orm.GetHoursForPlaces(r.db.WithContext(ctx), placeIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]model.OpeningHours, len(all))
	for id, hs := range all {
		for _, h := range hs {
			if h.Weekday == weekday {
				out[id] = append(out[id], h)
			}
		}
		// Hours on record but none for this weekday means closed that day,
		// not unknown: emit an intervals-free entry so callers can tell the
		// two apart (absent entirely reads as always open).
		if _, ok := out[id]; !ok {
			out[id] = []model.OpeningHours{{PlaceID: id, Weekday: weekday}}
		}
	}
	return out, nil
}

func (r *gormRepository) GetPlaces(ctx context.Context, placeIDs []string) (map[string]model.Place, error) {
	rows, err := orm.GetPlacesByID(r.db.WithContext(ctx), placeIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.Place, len(rows))
	for _, p := range rows {
		out[p.ID] = p
	}
	return out, nil
}

// boundingBox computes a coarse lat/lon rectangle enclosing a radiusM
// circle around center, used as an index-friendly SQL pre-filter before
// the exact haversine check.
func boundingBox(center model.Point, radiusM float64) orm.BoundingBox {
	latDelta := (radiusM / earthRadiusM) * (180 / math.Pi)
	lonDelta := latDelta / math.Max(math.Cos(center.Lat*math.Pi/180), 0.01)
	return orm.BoundingBox{
		MinLat: center.Lat - latDelta,
		MaxLat: center.Lat + latDelta,
		MinLon: center.Lon - lonDelta,
		MaxLon: center.Lon + lonDelta,
	}
}

// haversineM returns the great-circle distance between a and b in meters.
func haversineM(a, b model.Point) float64 {
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}
