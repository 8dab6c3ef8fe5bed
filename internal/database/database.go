package database

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"trade-settlement-engine/internal/config"
	"trade-settlement-engine/internal/models"
)

// NewDatabase creates a new database connection, migrates the schema and seeds
// the pair catalogue and any configured wallets.
func NewDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := Open(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	if err := Seed(db, cfg); err != nil {
		return nil, err
	}

	return db, nil
}

// Open connects to SQLite. The pool is pinned to one connection: SQLite has a
// single writer, and an in-memory DSN is private to its connection.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

// Migrate creates or updates the ledger tables. Ledger history is never dropped.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Pair{},
		&models.WalletAccount{},
		&models.Trade{},
		&models.Transaction{},
		&models.Notification{},
		&models.AuditEntry{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}

// Seed populates the 'pairs' table from the config and creates wallets that do not exist yet.
// Existing wallets are left untouched so restarts never reset balances.
func Seed(db *gorm.DB, cfg *config.Config) error {
	for _, symbol := range cfg.Platform.Pairs {
		pair := models.Pair{Symbol: symbol, Enabled: true}
		if err := db.FirstOrCreate(&pair, models.Pair{Symbol: symbol}).Error; err != nil {
			return fmt.Errorf("failed to populate pair '%s': %w", symbol, err)
		}
	}

	for userID, balance := range cfg.Database.SeedWallets {
		var wallet models.WalletAccount
		err := db.First(&wallet, "user_id = ?", userID).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to look up wallet '%s': %w", userID, err)
		}
		wallet = models.WalletAccount{
			UserID:       userID,
			Balance:      decimal.NewFromFloat(balance),
			LockedAmount: decimal.Zero,
		}
		if err := db.Create(&wallet).Error; err != nil {
			return fmt.Errorf("failed to seed wallet '%s': %w", userID, err)
		}
	}

	return nil
}
