package orm

import (
	"strings"

	"gorm.io/gorm"

	"github.com/tripcraft/planner/model"
)

// Place is the catalog's persisted record of a point of interest. Tags and
// categories are stored pipe-delimited; the catalog package never needs to
// query inside them in SQL, only after loading, so a join table would be
// pure overhead for this dataset's scale.
type Place struct {
	ID               string `gorm:"primaryKey"`
	Name             string
	Lat              float64 `gorm:"index"`
	Lon              float64 `gorm:"index"`
	Categories       string
	Tags             string
	DefaultStayMin   int
	PriceTier        *int
	Rating           *float64
	FormattedAddress string
}

func (p *Place) ToModel() model.Place {
	if p == nil {
		return model.Place{}
	}
	return model.Place{
		ID:               p.ID,
		Name:             p.Name,
		Point:            model.Point{Lat: p.Lat, Lon: p.Lon},
		Categories:       splitTags(p.Categories),
		Tags:             splitTags(p.Tags),
		DefaultStayMin:   p.DefaultStayMin,
		PriceTier:        p.PriceTier,
		Rating:           p.Rating,
		FormattedAddress: p.FormattedAddress,
	}
}

func PlaceFromModel(m model.Place) *Place {
	return &Place{
		ID:               m.ID,
		Name:             m.Name,
		Lat:              m.Point.Lat,
		Lon:              m.Point.Lon,
		Categories:       joinTags(m.Categories),
		Tags:             joinTags(m.Tags),
		DefaultStayMin:   m.DefaultStayMin,
		PriceTier:        m.PriceTier,
		Rating:           m.Rating,
		FormattedAddress: m.FormattedAddress,
	}
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "|")
}

func joinTags(tags []string) string {
	return strings.Join(tags, "|")
}

// UpsertPlace creates or replaces a place record by primary key.
func UpsertPlace(db *gorm.DB, m model.Place) error {
	return db.Save(PlaceFromModel(m)).Error
}

// GetPlace loads a single place record. Opening hours are a separate
// lookup; see GetHoursForPlaces.
func GetPlace(db *gorm.DB, id string) (*model.Place, error) {
	var p Place
	if err := db.First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	out := p.ToModel()
	return &out, nil
}

// BoundingBox is a coarse lat/lon rectangle used to pre-filter candidates
// before the catalog applies an exact haversine radius check; this keeps
// the SQL index-friendly since sqlite and postgres both index plain
// float columns but neither backend used here ships geospatial types.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// FindPlacesInBox returns every place whose coordinates fall in box,
// optionally filtered to the given categories (OR semantics, empty means
// no filter).
func FindPlacesInBox(db *gorm.DB, box BoundingBox, categories []string) ([]model.Place, error) {
	q := db.
		Where("lat BETWEEN ? AND ?", box.MinLat, box.MaxLat).
		Where("lon BETWEEN ? AND ?", box.MinLon, box.MaxLon)
	if len(categories) > 0 {
		var clauses []string
		args := make([]interface{}, 0, len(categories))
		for _, c := range categories {
			clauses = append(clauses, "categories LIKE ?")
			args = append(args, "%"+c+"%")
		}
		q = q.Where(strings.Join(clauses, " OR "), args...)
	}
	var rows []Place
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Place, len(rows))
	for i, r := range rows {
		out[i] = r.ToModel()
	}
	return out, nil
}

// GetPlacesByID loads a batch of places by id, preserving no particular
// order; callers reindex by PlaceID.
func GetPlacesByID(db *gorm.DB, ids []string) ([]model.Place, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []Place
	if err := db.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Place, len(rows))
	for i, r := range rows {
		out[i] = r.ToModel()
	}
	return out, nil
}
