package repository

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.ExamSubmission{},
		&models.SubmissionAnswer{},
		&models.Grader{},
		&models.GradingSession{},
		&models.GradingEntry{},
		&models.ActivityLog{},
	))
	return db
}

func newSession(submissionID string, version int, status models.SessionStatus) models.GradingSession {
	return models.GradingSession{
		ID:           uuid.NewString(),
		SubmissionID: submissionID,
		Version:      version,
		Status:       status,
		Mode:         models.GradingModeAuto,
		StartedAt:    time.Now().UTC(),
	}
}

func newEntry(sessionID, questionID string, position, maxScore int) models.GradingEntry {
	return models.GradingEntry{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		QuestionID:    questionID,
		AnswerID:      "ans-" + questionID,
		Position:      position,
		MaxScore:      maxScore,
		GradingMethod: models.GradingMethodAuto,
	}
}

func boolPtr(v bool) *bool {
	return &v
}
