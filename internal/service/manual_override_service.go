package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/observability"
	"github.com/noah-isme/gema-grading-api/internal/repository"
)

// ManualOverride is a human correction of one entry.
type ManualOverride struct {
	EntryID   string
	GraderID  string
	Score     int
	IsCorrect bool
	Feedback  string
}

// ManualOverrideProcessor applies grader corrections, including corrections
// to sessions that were already completed.
type ManualOverrideProcessor interface {
	ApplyOverride(ctx context.Context, override ManualOverride) (dto.ManualOverrideResponse, error)
}

// OverrideDependencies groups the collaborators of the override processor.
type OverrideDependencies struct {
	Transactor repository.Transactor
	Sessions   repository.GradingSessionRepository
	Entries    repository.GradingEntryRepository
	Graders    repository.GraderRepository
	Ledger     QuestionResultLedger
	Resolver   LatestVersionResolver
	Events     GradingEventPublisher
	Activity   ActivityRecorder
}

type manualOverrideProcessor struct {
	deps   OverrideDependencies
	logger zerolog.Logger
	tracer trace.Tracer
}

// NewManualOverrideProcessor constructs the override processor.
func NewManualOverrideProcessor(deps OverrideDependencies, logger zerolog.Logger) ManualOverrideProcessor {
	return &manualOverrideProcessor{
		deps:   deps,
		logger: logger.With().Str("component", "manual_override_processor").Logger(),
		tracer: otel.Tracer("github.com/noah-isme/gema-grading-api/internal/service/manual_override"),
	}
}

func (p *manualOverrideProcessor) ApplyOverride(ctx context.Context, override ManualOverride) (dto.ManualOverrideResponse, error) {
	ctx, span := p.tracer.Start(ctx, "grading.apply_override", trace.WithAttributes(
		attribute.String("grading.entry_id", override.EntryID),
		attribute.Int("grading.score", override.Score),
	))
	defer span.End()
	timer := observability.StartOperation("apply_override")

	response, err := p.applyOverride(ctx, override)
	timer.Done(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorReason(err))
		return dto.ManualOverrideResponse{}, err
	}

	span.SetAttributes(
		attribute.String("grading.session_id", response.Session.ID),
		attribute.String("grading.session_status", response.Session.Status),
	)
	return response, nil
}

func (p *manualOverrideProcessor) applyOverride(ctx context.Context, override ManualOverride) (dto.ManualOverrideResponse, error) {
	graderID := strings.TrimSpace(override.GraderID)

	var (
		entry         models.GradingEntry
		session       models.GradingSession
		progress      GradingProgress
		previousScore int
		previousBy    string
	)

	err := p.deps.Transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		var current models.GradingEntry
		var err error
		current, session, err = lockEntrySession(ctx, p.deps.Sessions, p.deps.Entries, strings.TrimSpace(override.EntryID))
		if err != nil {
			return err
		}
		previousScore = current.Score
		previousBy = string(current.GradingMethod)

		if graderID == "" {
			return ErrGraderRequired
		}

		exists, err := p.deps.Graders.Exists(ctx, graderID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrGraderNotFound
		}

		entry, err = p.deps.Ledger.RecordManualScore(ctx, current.ID, ManualScore{
			GraderID:  graderID,
			IsCorrect: override.IsCorrect,
			Score:     override.Score,
			Feedback:  override.Feedback,
		})
		if err != nil {
			return err
		}

		if session.Status == models.SessionStatusCompleted {
			total, err := p.deps.Ledger.TotalScore(ctx, session.ID)
			if err != nil {
				return err
			}
			if err := p.deps.Sessions.UpdateTotalScore(ctx, session.ID, total); err != nil {
				return err
			}
			session.TotalScore = &total
		}

		progress, err = p.deps.Ledger.Progress(ctx, session.ID)
		return err
	})
	if err != nil {
		return dto.ManualOverrideResponse{}, err
	}

	logEvent := p.logger.Info().
		Str("entry_id", entry.ID).
		Str("session_id", session.ID).
		Str("session_status", string(session.Status)).
		Str("grader_id", graderID).
		Int("previous_score", previousScore).
		Int("score", entry.Score)
	if session.TotalScore != nil {
		logEvent = logEvent.Int("total_score", *session.TotalScore)
	}
	logEvent.Msg("manual override applied")

	observability.OverridesTotal().WithLabelValues(string(session.Status)).Inc()
	p.record(ctx, session, entry, previousScore, previousBy)
	p.publish(ctx, session, entry)

	current, err := p.deps.Resolver.IsCurrent(ctx, session)
	if err != nil {
		p.logger.Warn().Err(err).Str("session_id", session.ID).Msg("failed to resolve current session after override")
	}

	return dto.ManualOverrideResponse{
		Entry:   dto.NewEntrySummary(entry),
		Session: dto.NewSessionSummary(session, progress.Graded, progress.Total, current),
	}, nil
}

func (p *manualOverrideProcessor) record(ctx context.Context, session models.GradingSession, entry models.GradingEntry, previousScore int, previousMethod string) {
	if p.deps.Activity == nil {
		return
	}
	metadata := map[string]interface{}{
		"session_id":      session.ID,
		"version":         session.Version,
		"session_status":  string(session.Status),
		"previous_score":  previousScore,
		"previous_method": previousMethod,
		"score":           entry.Score,
	}
	if session.TotalScore != nil {
		metadata["total_score"] = *session.TotalScore
	}
	if err := p.deps.Activity.Record(ctx, ActivityEntry{
		Action:       "entry.overridden",
		EntityType:   "entry",
		EntityID:     entry.ID,
		SubmissionID: session.SubmissionID,
		Metadata:     metadata,
	}); err != nil {
		p.logger.Warn().Err(err).Str("entry_id", entry.ID).Msg("failed to record override activity")
	}
}

func (p *manualOverrideProcessor) publish(ctx context.Context, session models.GradingSession, entry models.GradingEntry) {
	if p.deps.Events == nil {
		return
	}
	data := map[string]interface{}{
		"score":      entry.Score,
		"max_score":  entry.MaxScore,
		"is_correct": entry.IsCorrect,
		"graded_by":  entry.GradedBy,
	}
	if session.TotalScore != nil {
		data["total_score"] = *session.TotalScore
	}
	p.deps.Events.Publish(ctx, GradingEvent{
		Type:         EventEntryOverridden,
		SubmissionID: session.SubmissionID,
		SessionID:    session.ID,
		EntryID:      entry.ID,
		Version:      session.Version,
		Status:       session.Status,
		Data:         data,
	})
}
