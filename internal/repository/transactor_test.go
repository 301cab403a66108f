package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

func TestTransactorRollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	tx := NewTransactor(db)
	repo := NewGradingSessionRepository(db)

	boom := errors.New("boom")
	err := tx.WithinTransaction(context.Background(), func(ctx context.Context) error {
		require.True(t, InTransaction(ctx))
		session := newSession("sub-1", 1, models.SessionStatusInProgress)
		require.NoError(t, repo.Create(ctx, &session))
		return boom
	})
	require.ErrorIs(t, err, boom)

	maxVersion, err := repo.MaxVersion(context.Background(), "sub-1")
	require.NoError(t, err)
	require.Equal(t, 0, maxVersion)
}

func TestTransactorNestedCallsJoinOuterTransaction(t *testing.T) {
	db := setupTestDB(t)
	tx := NewTransactor(db)
	repo := NewGradingSessionRepository(db)

	boom := errors.New("outer failure")
	err := tx.WithinTransaction(context.Background(), func(ctx context.Context) error {
		innerErr := tx.WithinTransaction(ctx, func(ctx context.Context) error {
			session := newSession("sub-1", 1, models.SessionStatusInProgress)
			return repo.Create(ctx, &session)
		})
		require.NoError(t, innerErr)
		return boom
	})
	require.ErrorIs(t, err, boom)

	maxVersion, err := repo.MaxVersion(context.Background(), "sub-1")
	require.NoError(t, err)
	require.Equal(t, 0, maxVersion, "inner write must roll back with the outer transaction")
}

func TestTransactorReadTransactionSeesCommittedRows(t *testing.T) {
	db := setupTestDB(t)
	tx := NewTransactor(db)
	repo := NewGradingSessionRepository(db)

	session := newSession("sub-1", 1, models.SessionStatusCompleted)
	require.NoError(t, repo.Create(context.Background(), &session))

	var latest models.GradingSession
	err := tx.WithinReadTransaction(context.Background(), func(ctx context.Context) error {
		require.True(t, InTransaction(ctx))
		var err error
		latest, err = repo.Latest(ctx, "sub-1")
		return err
	})
	require.NoError(t, err)
	require.Equal(t, session.ID, latest.ID)
	require.False(t, InTransaction(context.Background()))
}
