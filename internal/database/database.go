package database

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"addrbook/internal/config"
	"addrbook/internal/database/migrations"
)

func Connect(c *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(c.DatabaseURL), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Debug("GORM connected to database")

	return db, nil
}

// gooseUp is a seam for tests.
var gooseUp = func(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return goose.UpContext(ctx, sqlDB, ".")
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *gorm.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	if err := gooseUp(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("database schema is up to date")

	return nil
}
