package config

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tradeledger/internal/models"
)

var DB *gorm.DB

// DSNFromEnv builds the postgres DSN from DB_* variables.
func DSNFromEnv() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_PORT"),
	)
}

// OpenDB connects, sizes the pool and migrates the ledger models.
func OpenDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	err = db.AutoMigrate(
		&models.TrackedAddress{},
		&models.ChainCursor{},
		&models.TradeRecord{},
		&models.Lot{},
		&models.RealizedClose{},
		&models.AgentStats{},
	)
	if err != nil {
		return nil, fmt.Errorf("migrate models: %w", err)
	}
	return db, nil
}

// InitDB initializes the database connection
func InitDB() {
	db, err := OpenDB(DSNFromEnv())
	if err != nil {
		log.Fatalf("> %v", err)
	}
	DB = db
	log.Infof("> connected to database %s at %s", os.Getenv("DB_NAME"), os.Getenv("DB_HOST"))
}
