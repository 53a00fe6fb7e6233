package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"veritrace-system/internal/database/models"
)

func NewConnection(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		log.Fatal("DSN is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("failed to get sql.DB: %v", err)
	}

	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}

	return db, nil
}

// Migrate creates or updates all domain tables, including the compound unique
// indexes that back inventory key uniqueness and per-tenant product names.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Enterprise{},
		&models.User{},
		&models.Product{},
		&models.Batch{},
		&models.TraceEvent{},
		&models.InventoryItem{},
		&models.InventoryAuditLog{},
		&models.AuditLog{},
		&models.FileRecord{},
	)
}
