package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/gymroutes/internal/gym"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openMigrationDatabase(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "migration.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{TranslateError: true})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&gym.WallReset{}, &gym.Route{}, &gym.ClimbLog{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	return database
}

func TestApplyMigrationsRepairsDuplicateCurrentResets(testContext *testing.T) {
	database := openMigrationDatabase(testContext)

	older := gym.WallReset{ID: "reset-old", WallID: "wall1", ResetDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), IsCurrent: true}
	newer := gym.WallReset{ID: "reset-new", WallID: "wall1", ResetDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), IsCurrent: true}
	other := gym.WallReset{ID: "reset-other", WallID: "wall2", ResetDate: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), IsCurrent: true}
	for _, reset := range []gym.WallReset{older, newer, other} {
		if err := database.Create(&reset).Error; err != nil {
			testContext.Fatalf("failed to insert reset: %v", err)
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var currents []gym.WallReset
	if err := database.Where("is_current = ?", true).Order("wall_id ASC").Find(&currents).Error; err != nil {
		testContext.Fatalf("failed to reload resets: %v", err)
	}
	if len(currents) != 2 || currents[0].ID != "reset-new" || currents[1].ID != "reset-other" {
		testContext.Fatalf("unexpected current resets after repair: %#v", currents)
	}

	duplicate := gym.WallReset{ID: "reset-dup", WallID: "wall1", ResetDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), IsCurrent: true}
	if err := database.Create(&duplicate).Error; err == nil {
		testContext.Fatalf("expected unique index to reject a second current reset")
	}
	historical := gym.WallReset{ID: "reset-hist", WallID: "wall1", ResetDate: time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC), IsCurrent: false}
	if err := database.Create(&historical).Error; err != nil {
		testContext.Fatalf("expected historical reset insert to succeed: %v", err)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationSingleCurrentReset).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("expected reapplying migrations to be a no-op: %v", err)
	}
}

func TestApplyMigrationsCanonicalisesGrades(testContext *testing.T) {
	database := openMigrationDatabase(testContext)

	route := gym.Route{
		ID:          "route-1",
		WallID:      "wall1",
		WallResetID: "reset-1",
		Grade:       "v4+",
		TapeColor:   "Pink",
		HoldColors:  []string{"Red"},
		DateSet:     time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		IsActive:    true,
	}
	if err := database.Create(&route).Error; err != nil {
		testContext.Fatalf("failed to insert route: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored gym.Route
	if err := database.Where("id = ?", route.ID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload route: %v", err)
	}
	if stored.Grade != "V4+" {
		testContext.Fatalf("expected canonical grade, got %q", stored.Grade)
	}
}

func TestOpenRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Open(Options{Driver: "mysql"}, zap.NewNop()); err == nil {
		testContext.Fatalf("expected unsupported driver error")
	}
	if _, err := Open(Options{Driver: "postgres"}, zap.NewNop()); err == nil {
		testContext.Fatalf("expected missing dsn error")
	}
}

func TestOpenSQLiteMigratesSchema(testContext *testing.T) {
	database, err := Open(Options{Driver: "sqlite", Path: filepath.Join(testContext.TempDir(), "open.db")}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	for _, table := range []string{"wall_resets", "routes", "climb_logs", "profiles", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}
	if !database.Migrator().HasIndex(&gym.WallReset{}, currentResetIndexName) {
		testContext.Fatalf("expected current reset index to exist")
	}
}
