package service

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/repository"
)

// LatestVersionResolver decides which grading session of a submission is
// current. Every read path asks it instead of comparing versions itself.
type LatestVersionResolver interface {
	LatestFor(ctx context.Context, submissionID string) (models.GradingSession, error)
	HistoryFor(ctx context.Context, submissionID string) ([]models.GradingSession, error)
	LatestForMany(ctx context.Context, submissionIDs []string) (map[string]models.GradingSession, error)
	IsCurrent(ctx context.Context, session models.GradingSession) (bool, error)
}

type latestVersionResolver struct {
	tx       repository.Transactor
	sessions repository.GradingSessionRepository
}

// NewLatestVersionResolver constructs the resolver.
func NewLatestVersionResolver(tx repository.Transactor, sessions repository.GradingSessionRepository) LatestVersionResolver {
	return &latestVersionResolver{tx: tx, sessions: sessions}
}

// LatestFor returns the highest version session, or ErrSessionNotFound when
// the submission has never been graded.
func (r *latestVersionResolver) LatestFor(ctx context.Context, submissionID string) (models.GradingSession, error) {
	var latest models.GradingSession
	err := r.tx.WithinReadTransaction(ctx, func(ctx context.Context) error {
		var err error
		latest, err = r.sessions.Latest(ctx, strings.TrimSpace(submissionID))
		return err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.GradingSession{}, ErrSessionNotFound
		}
		return models.GradingSession{}, err
	}
	return latest, nil
}

// HistoryFor returns every session ordered by version ascending.
func (r *latestVersionResolver) HistoryFor(ctx context.Context, submissionID string) ([]models.GradingSession, error) {
	var history []models.GradingSession
	err := r.tx.WithinReadTransaction(ctx, func(ctx context.Context) error {
		var err error
		history, err = r.sessions.History(ctx, strings.TrimSpace(submissionID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}

// LatestForMany resolves the current session of several submissions at once.
// Submissions without sessions are absent from the result.
func (r *latestVersionResolver) LatestForMany(ctx context.Context, submissionIDs []string) (map[string]models.GradingSession, error) {
	ids := uniqueIDs(submissionIDs)
	result := make(map[string]models.GradingSession, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	err := r.tx.WithinReadTransaction(ctx, func(ctx context.Context) error {
		sessions, err := r.sessions.LatestForMany(ctx, ids)
		if err != nil {
			return err
		}
		for _, session := range sessions {
			result[session.SubmissionID] = session
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *latestVersionResolver) IsCurrent(ctx context.Context, session models.GradingSession) (bool, error) {
	latest, err := r.LatestFor(ctx, session.SubmissionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}
	return latest.ID == session.ID, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
