package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// Connect opens the configured relational store. The pool settings only
// apply to postgres.
func Connect(driver, dsn string, pool PoolConfig) (*gorm.DB, error) {
	switch driver {
	case "", "postgres":
		return ConnectPostgres(dsn, pool)
	case "sqlite":
		return ConnectSQLite(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Migrate creates or updates the grading schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.ExamSubmission{},
		&models.SubmissionAnswer{},
		&models.Grader{},
		&models.GradingSession{},
		&models.GradingEntry{},
		&models.ActivityLog{},
	); err != nil {
		return fmt.Errorf("migrate grading schema: %w", err)
	}
	return nil
}
