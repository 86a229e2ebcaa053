package gorm

import (
	"fmt"
	"time"

	"device-remoting/internal/core/devices"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlog "gorm.io/gorm/logger"
)

// New creates a new GORM database instance and runs migrations.
func New(dsn string, lg zerolog.Logger) (*gorm.DB, error) {
	// Configure GORM's logger to use Zerolog
	gormLogger := gormlog.New(
		&lg,
		gormlog.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlog.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("gorm open: %w", err)
	}

	if err := db.AutoMigrate(&devices.Device{}, &devices.Online{}, &devices.History{}, &devices.Event{}, &devices.Release{}); err != nil {
		return nil, fmt.Errorf("gorm migrate: %w", err)
	}
	lg.Info().Msg("database migration successful")

	return db, nil
}
