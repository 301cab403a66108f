package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/repository"
)

const defaultStaleLimit = 100

// GradingResultService serves the read side of grading results.
type GradingResultService interface {
	LatestResult(ctx context.Context, submissionID string) (dto.GradingResultResponse, error)
	ResultHistory(ctx context.Context, submissionID string) (dto.ResultHistoryResponse, error)
	SessionDetail(ctx context.Context, sessionID string) (dto.GradingResultResponse, error)
	LatestSummaries(ctx context.Context, submissionIDs []string) ([]dto.SessionSummary, error)
	StaleSessions(ctx context.Context, olderThan time.Duration, limit int) ([]dto.StaleSessionResponse, error)
}

type gradingResultService struct {
	tx          repository.Transactor
	sessions    repository.GradingSessionRepository
	entries     repository.GradingEntryRepository
	submissions repository.SubmissionRepository
	resolver    LatestVersionResolver
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewGradingResultService constructs the read service.
func NewGradingResultService(tx repository.Transactor, sessions repository.GradingSessionRepository, entries repository.GradingEntryRepository, submissions repository.SubmissionRepository, resolver LatestVersionResolver, logger zerolog.Logger) GradingResultService {
	return &gradingResultService{
		tx:          tx,
		sessions:    sessions,
		entries:     entries,
		submissions: submissions,
		resolver:    resolver,
		logger:      logger.With().Str("component", "grading_result_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-grading-api/internal/service/grading_result"),
		now:         time.Now,
	}
}

func (s *gradingResultService) LatestResult(ctx context.Context, submissionID string) (dto.GradingResultResponse, error) {
	submissionID = strings.TrimSpace(submissionID)
	ctx, span := s.tracer.Start(ctx, "grading.latest_result", trace.WithAttributes(
		attribute.String("grading.submission_id", submissionID),
	))
	defer span.End()

	var response dto.GradingResultResponse
	err := s.tx.WithinReadTransaction(ctx, func(ctx context.Context) error {
		if err := s.requireSubmission(ctx, submissionID); err != nil {
			return err
		}

		latest, err := s.resolver.LatestFor(ctx, submissionID)
		if err != nil {
			return err
		}

		response, err = s.withEntries(ctx, latest, true)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorReason(err))
		return dto.GradingResultResponse{}, err
	}

	span.SetAttributes(attribute.Int("grading.version", response.Session.Version))
	return response, nil
}

func (s *gradingResultService) ResultHistory(ctx context.Context, submissionID string) (dto.ResultHistoryResponse, error) {
	submissionID = strings.TrimSpace(submissionID)
	ctx, span := s.tracer.Start(ctx, "grading.result_history", trace.WithAttributes(
		attribute.String("grading.submission_id", submissionID),
	))
	defer span.End()

	response := dto.ResultHistoryResponse{SubmissionID: submissionID, Sessions: []dto.SessionSummary{}}
	err := s.tx.WithinReadTransaction(ctx, func(ctx context.Context) error {
		if err := s.requireSubmission(ctx, submissionID); err != nil {
			return err
		}

		history, err := s.resolver.HistoryFor(ctx, submissionID)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			return nil
		}

		latest, err := s.resolver.LatestFor(ctx, submissionID)
		if err != nil {
			return err
		}

		for _, session := range history {
			summary, err := s.summarize(ctx, session, session.ID == latest.ID)
			if err != nil {
				return err
			}
			response.Sessions = append(response.Sessions, summary)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorReason(err))
		return dto.ResultHistoryResponse{}, err
	}

	span.SetAttributes(attribute.Int("grading.sessions", len(response.Sessions)))
	return response, nil
}

func (s *gradingResultService) SessionDetail(ctx context.Context, sessionID string) (dto.GradingResultResponse, error) {
	sessionID = strings.TrimSpace(sessionID)
	ctx, span := s.tracer.Start(ctx, "grading.session_detail", trace.WithAttributes(
		attribute.String("grading.session_id", sessionID),
	))
	defer span.End()

	var response dto.GradingResultResponse
	err := s.tx.WithinReadTransaction(ctx, func(ctx context.Context) error {
		session, err := s.sessions.GetByID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}

		current, err := s.resolver.IsCurrent(ctx, session)
		if err != nil {
			return err
		}

		response, err = s.withEntries(ctx, session, current)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorReason(err))
		return dto.GradingResultResponse{}, err
	}

	return response, nil
}

func (s *gradingResultService) LatestSummaries(ctx context.Context, submissionIDs []string) ([]dto.SessionSummary, error) {
	ctx, span := s.tracer.Start(ctx, "grading.latest_summaries", trace.WithAttributes(
		attribute.Int("grading.requested", len(submissionIDs)),
	))
	defer span.End()

	summaries := make([]dto.SessionSummary, 0, len(submissionIDs))
	err := s.tx.WithinReadTransaction(ctx, func(ctx context.Context) error {
		latest, err := s.resolver.LatestForMany(ctx, submissionIDs)
		if err != nil {
			return err
		}

		for _, id := range uniqueIDs(submissionIDs) {
			session, ok := latest[id]
			if !ok {
				continue
			}
			summary, err := s.summarize(ctx, session, true)
			if err != nil {
				return err
			}
			summaries = append(summaries, summary)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorReason(err))
		return nil, err
	}

	span.SetAttributes(attribute.Int("grading.resolved", len(summaries)))
	return summaries, nil
}

// StaleSessions lists in-progress sessions started before the cutoff. They
// are reported for operators and never reaped.
func (s *gradingResultService) StaleSessions(ctx context.Context, olderThan time.Duration, limit int) ([]dto.StaleSessionResponse, error) {
	if olderThan <= 0 {
		return nil, fmt.Errorf("%w: older_than must be positive", ErrValidation)
	}
	if limit <= 0 {
		limit = defaultStaleLimit
	}

	ctx, span := s.tracer.Start(ctx, "grading.stale_sessions", trace.WithAttributes(
		attribute.String("grading.older_than", olderThan.String()),
	))
	defer span.End()

	now := s.now().UTC()
	result := []dto.StaleSessionResponse{}
	err := s.tx.WithinReadTransaction(ctx, func(ctx context.Context) error {
		stale, err := s.sessions.ListStale(ctx, now.Add(-olderThan), limit)
		if err != nil {
			return err
		}
		if len(stale) == 0 {
			return nil
		}

		submissionIDs := make([]string, 0, len(stale))
		for _, session := range stale {
			submissionIDs = append(submissionIDs, session.SubmissionID)
		}
		latest, err := s.resolver.LatestForMany(ctx, submissionIDs)
		if err != nil {
			return err
		}

		for _, session := range stale {
			current := latest[session.SubmissionID].ID == session.ID
			summary, err := s.summarize(ctx, session, current)
			if err != nil {
				return err
			}
			result = append(result, dto.StaleSessionResponse{
				Session:    summary,
				Superseded: !current,
				Age:        now.Sub(session.StartedAt).Truncate(time.Second).String(),
			})
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorReason(err))
		return nil, err
	}

	if len(result) > 0 {
		s.logger.Warn().Int("count", len(result)).Dur("older_than", olderThan).Msg("stale grading sessions detected")
	}
	return result, nil
}

func (s *gradingResultService) requireSubmission(ctx context.Context, submissionID string) error {
	exists, err := s.submissions.Exists(ctx, submissionID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrSubmissionNotFound
	}
	return nil
}

func (s *gradingResultService) withEntries(ctx context.Context, session models.GradingSession, current bool) (dto.GradingResultResponse, error) {
	entries, err := s.entries.ListBySession(ctx, session.ID)
	if err != nil {
		return dto.GradingResultResponse{}, err
	}

	summary, err := s.summarize(ctx, session, current)
	if err != nil {
		return dto.GradingResultResponse{}, err
	}

	return dto.GradingResultResponse{
		Session: summary,
		Entries: dto.NewEntrySummarySlice(entries),
	}, nil
}

func (s *gradingResultService) summarize(ctx context.Context, session models.GradingSession, current bool) (dto.SessionSummary, error) {
	progress, err := s.entries.Progress(ctx, session.ID)
	if err != nil {
		return dto.SessionSummary{}, err
	}
	return dto.NewSessionSummary(session, int(progress.Graded), int(progress.Total), current), nil
}
