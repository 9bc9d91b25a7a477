package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/gymroutes/internal/gym"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationSingleCurrentReset = "2024-06-01_single_current_reset_per_wall"
	migrationCanonicalGrades    = "2024-06-08_canonical_route_grades"

	currentResetIndexName = "idx_wall_resets_one_current"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSingleCurrentReset, apply: enforceSingleCurrentReset},
		{name: migrationCanonicalGrades, apply: canonicaliseRouteGrades},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Transaction(migration.apply); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// enforceSingleCurrentReset demotes all but the newest current reset of each wall, then
// adds the partial unique index that keeps it that way.
func enforceSingleCurrentReset(db *gorm.DB) error {
	var currents []gym.WallReset
	if err := db.Where("is_current = ?", true).
		Order("wall_id ASC, reset_date DESC, created_at DESC").
		Find(&currents).Error; err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(currents))
	for _, reset := range currents {
		if _, ok := seen[reset.WallID]; !ok {
			seen[reset.WallID] = struct{}{}
			continue
		}
		if err := db.Model(&gym.WallReset{}).
			Where("id = ?", reset.ID).
			Update("is_current", false).Error; err != nil {
			return err
		}
	}

	return db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS " + currentResetIndexName +
		" ON wall_resets (wall_id) WHERE is_current = true").Error
}

// canonicaliseRouteGrades rewrites labels such as "v4" into their canonical "V4" form so
// per-grade aggregations group them together.
func canonicaliseRouteGrades(db *gorm.DB) error {
	var routes []gym.Route
	if err := db.Select("id", "grade").Find(&routes).Error; err != nil {
		return err
	}
	for _, route := range routes {
		canonical := gym.ParseGrade(route.Grade).String()
		if canonical == route.Grade {
			continue
		}
		if err := db.Model(&gym.Route{}).
			Where("id = ?", route.ID).
			Update("grade", canonical).Error; err != nil {
			return err
		}
	}
	return nil
}
