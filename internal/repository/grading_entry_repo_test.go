package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

func TestGradingEntryRepositoryProgressAndSum(t *testing.T) {
	db := setupTestDB(t)
	sessions := NewGradingSessionRepository(db)
	repo := NewGradingEntryRepository(db)
	ctx := context.Background()

	session := newSession("sub-1", 1, models.SessionStatusInProgress)
	require.NoError(t, sessions.Create(ctx, &session))

	entries := []models.GradingEntry{
		newEntry(session.ID, "q1", 1, 5),
		newEntry(session.ID, "q2", 2, 5),
		newEntry(session.ID, "q3", 3, 5),
	}
	require.NoError(t, repo.CreateBatch(ctx, entries))

	progress, err := repo.Progress(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, EntryProgress{Graded: 0, Total: 3}, progress)

	graded := entries[1]
	graded.IsCorrect = boolPtr(true)
	graded.Score = 4
	graded.Details = datatypes.JSONMap{"rubric": "ok"}
	now := time.Now().UTC()
	graded.GradedAt = &now
	require.NoError(t, repo.UpdateScore(ctx, &graded))

	progress, err = repo.Progress(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, EntryProgress{Graded: 1, Total: 3}, progress)

	total, err := repo.SumScores(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, 4, total)

	ungraded, err := repo.ListUngraded(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, ungraded, 2)
	require.Equal(t, "q1", ungraded[0].QuestionID)
	require.Equal(t, "q3", ungraded[1].QuestionID)

	stored, err := repo.GetByID(ctx, graded.ID)
	require.NoError(t, err)
	require.Equal(t, "ok", stored.Details["rubric"])
}

func TestGradingEntryRepositoryRejectsDuplicateQuestion(t *testing.T) {
	db := setupTestDB(t)
	sessions := NewGradingSessionRepository(db)
	repo := NewGradingEntryRepository(db)
	ctx := context.Background()

	session := newSession("sub-1", 1, models.SessionStatusInProgress)
	require.NoError(t, sessions.Create(ctx, &session))

	require.NoError(t, repo.CreateBatch(ctx, []models.GradingEntry{newEntry(session.ID, "q1", 1, 5)}))
	err := repo.CreateBatch(ctx, []models.GradingEntry{newEntry(session.ID, "q1", 1, 5)})
	require.ErrorIs(t, err, ErrDuplicateKey)
}

func TestGradingEntryRepositoryUpdateScoreMissingEntry(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGradingEntryRepository(db)

	missing := newEntry("session-1", "q1", 1, 5)
	err := repo.UpdateScore(context.Background(), &missing)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
