package orm

import "gorm.io/gorm"

// Migrate creates or updates every table this package owns. Called once
// at bootstrap; the planner has no online schema-migration story beyond
// gorm's additive AutoMigrate.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Place{},
		&OpeningHours{},
		&APICache{},
		&FeedbackLog{},
	)
}
