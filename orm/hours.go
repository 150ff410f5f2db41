package orm

import (
	"gorm.io/gorm"

	"github.com/tripcraft/planner/model"
)

// OpeningHours is one weekday's interval for a place. A place may carry
// either a single wrap-around row (OpenMin > CloseMin) or two split rows
// for the same weekday; the catalog package normalizes both shapes into
// model.OpeningHours.Contains at read time.
type OpeningHours struct {
	ID       uint `gorm:"primaryKey"`
	PlaceID  string `gorm:"index"`
	Weekday  int    // 0 = Sunday, matching time.Weekday
	OpenMin  int
	CloseMin int
}

func (h *OpeningHours) toInterval() model.Interval {
	return model.Interval{OpenMin: h.OpenMin, CloseMin: h.CloseMin}
}

// GetHoursForPlaces loads and groups every opening-hours row for the given
// place ids, merging same-weekday rows for each place into a single
// model.OpeningHours per weekday.
func GetHoursForPlaces(db *gorm.DB, placeIDs []string) (map[string][]model.OpeningHours, error) {
	if len(placeIDs) == 0 {
		return nil, nil
	}
	var rows []OpeningHours
	if err := db.Where("place_id IN ?", placeIDs).Find(&rows).Error; err != nil {
		return nil, err
	}

	type key struct {
		placeID string
		weekday int
	}
	grouped := make(map[key][]model.Interval)
	for _, r := range rows {
		k := key{r.PlaceID, r.Weekday}
		grouped[k] = append(grouped[k], r.toInterval())
	}

	out := make(map[string][]model.OpeningHours, len(placeIDs))
	for k, intervals := range grouped {
		out[k.placeID] = append(out[k.placeID], model.OpeningHours{
			PlaceID:   k.placeID,
			Weekday:   k.weekday,
			Intervals: intervals,
		})
	}
	return out, nil
}

// ReplaceHoursForPlace atomically replaces every opening-hours row for a
// place with the given set.
func ReplaceHoursForPlace(db *gorm.DB, placeID string, hours []model.OpeningHours) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("place_id = ?", placeID).Delete(&OpeningHours{}).Error; err != nil {
			return err
		}
		var rows []OpeningHours
		for _, h := range hours {
			for _, iv := range h.Intervals {
				rows = append(rows, OpeningHours{
					PlaceID:  placeID,
					Weekday:  h.Weekday,
					OpenMin:  iv.OpenMin,
					CloseMin: iv.CloseMin,
				})
			}
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
}
