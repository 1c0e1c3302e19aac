package database

import (
	"fmt"

	"trade-pipeline-go/internal/config"
	"trade-pipeline-go/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase creates a new database connection and performs auto-migration.
func NewDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := AutoMigrate(db, cfg); err != nil {
		return nil, err
	}

	return db, nil
}

// AutoMigrate creates or updates the schema and seeds the instruments from
// the config. Existing trade history is never dropped; the queue and the
// trade table must survive process restarts.
func AutoMigrate(db *gorm.DB, cfg *config.Config) error {
	if err := db.AutoMigrate(&models.Trade{}, &models.BrokerAccount{}, &models.Instrument{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	// Populate the instruments table from the config.
	for _, symbol := range cfg.Pipeline.Instruments {
		instrument := models.Instrument{Symbol: symbol, Enabled: true}
		if err := db.FirstOrCreate(&instrument, models.Instrument{Symbol: symbol}).Error; err != nil {
			return fmt.Errorf("failed to populate instrument '%s': %w", symbol, err)
		}
	}

	return nil
}
