package database

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/backstage/services/shortage/config"
	"example.com/backstage/services/shortage/internal/models"
	"example.com/backstage/services/shortage/internal/telemetry"
)

// Connect opens the write and read-only connections. When no read-only DSN is configured the
// write connection serves reads too.
func Connect(cfg config.DatabaseConfig, debug bool) (db *gorm.DB, readOnlyDB *gorm.DB, err error) {
	db, err = open(cfg.DSN, cfg, debug)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to database")
	}
	if cfg.ReadOnlyDSN == "" || cfg.ReadOnlyDSN == cfg.DSN {
		return db, db, nil
	}
	readOnlyDB, err = open(cfg.ReadOnlyDSN, cfg, debug)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to read-only database")
	}
	return db, readOnlyDB, nil
}

func open(dsn string, cfg config.DatabaseConfig, debug bool) (*gorm.DB, error) {
	logLevel := logger.Error
	if debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.New(logAdapter{}, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get database connection")
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	RegisterDurationHooks(db)
	RegisterMetricsHooks(db, telemetry.GetCollector())
	return db, nil
}

// Migrate creates or updates the case and material tables
func Migrate(db *gorm.DB) error {
	return models.SetupModels(db)
}

// Close closes the underlying pool
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// logAdapter routes gorm's logger through zerolog
type logAdapter struct{}

func (logAdapter) Printf(format string, args ...interface{}) {
	log.Debug().Str("component", "gorm").Msg(fmt.Sprintf(format, args...))
}
