package repository

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"github.com/MelodifyLabs/melody-call-service/pkg/logger"
)

// NewDatabaseConnection creates a GORM connection with query logging routed
// through zap.
func NewDatabaseConnection(dsn string) (*gorm.DB, error) {
	gormLogger := glogger.New(logger.NewGORMWriter(), glogger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  glogger.Error,
		IgnoreRecordNotFoundError: true,
	})

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// AutoMigrate runs database migrations for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ChatSettings{},
		&BotUser{},
	)
}
