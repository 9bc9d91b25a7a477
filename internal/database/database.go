package database

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/gymroutes/internal/gym"
	"github.com/MarcoPoloResearchLab/gymroutes/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Options selects the backing store.
type Options struct {
	Driver string
	Path   string
	DSN    string
}

// Open establishes the configured connection and performs schema migrations.
func Open(options Options, logger *zap.Logger) (*gorm.DB, error) {
	dialector, target, err := dialectorFor(options)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if dialector.Name() == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", dialector.Name()), zap.String("target", target))
	}

	return db, nil
}

// Migrate creates the schema and applies named data migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&gym.WallReset{}, &gym.Route{}, &gym.ClimbLog{}, &users.Profile{}, &migrationRecord{}); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

func dialectorFor(options Options) (gorm.Dialector, string, error) {
	switch strings.ToLower(strings.TrimSpace(options.Driver)) {
	case "", "sqlite":
		if strings.TrimSpace(options.Path) == "" {
			return nil, "", fmt.Errorf("database path is required")
		}
		return sqlite.Open(options.Path), options.Path, nil
	case "postgres":
		if strings.TrimSpace(options.DSN) == "" {
			return nil, "", fmt.Errorf("database dsn is required")
		}
		return postgres.Open(options.DSN), "postgres", nil
	default:
		return nil, "", fmt.Errorf("unsupported database driver %q", options.Driver)
	}
}
