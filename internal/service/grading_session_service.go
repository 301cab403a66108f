package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/observability"
	"github.com/noah-isme/gema-grading-api/internal/repository"
)

// sessionTransitions is the complete session state machine. Completed sessions
// only move to regraded when a newer version supersedes them.
var sessionTransitions = map[models.SessionStatus][]models.SessionStatus{
	models.SessionStatusInProgress: {models.SessionStatusCompleted},
	models.SessionStatusCompleted:  {models.SessionStatusRegraded},
	models.SessionStatusRegraded:   {},
}

func validateTransition(from, to models.SessionStatus) error {
	for _, allowed := range sessionTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
}

// AutoScoringTrigger schedules automatic scoring of a freshly started session.
type AutoScoringTrigger interface {
	Enqueue(sessionID string)
}

// GradingSessionManager owns the lifecycle of grading sessions.
type GradingSessionManager interface {
	StartGrading(ctx context.Context, submissionID string, mode models.GradingMode, graderID *string) (dto.SessionSummary, error)
	CompleteGrading(ctx context.Context, sessionID string, comment *string) (dto.SessionSummary, error)
	StartRegrading(ctx context.Context, submissionID string) (dto.SessionSummary, error)
}

// SessionManagerDependencies groups the collaborators of the session manager.
// Events, Activity and AutoScoring are optional.
type SessionManagerDependencies struct {
	Transactor  repository.Transactor
	Sessions    repository.GradingSessionRepository
	Submissions repository.SubmissionRepository
	Graders     repository.GraderRepository
	Ledger      QuestionResultLedger
	Resolver    LatestVersionResolver
	Events      GradingEventPublisher
	Activity    ActivityRecorder
	AutoScoring AutoScoringTrigger
}

type gradingSessionManager struct {
	deps      SessionManagerDependencies
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewGradingSessionManager constructs the session manager.
func NewGradingSessionManager(deps SessionManagerDependencies, logger zerolog.Logger) GradingSessionManager {
	return &gradingSessionManager{
		deps:      deps,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "grading_session_manager").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-grading-api/internal/service/grading_session"),
		now:       time.Now,
	}
}

func (m *gradingSessionManager) StartGrading(ctx context.Context, submissionID string, mode models.GradingMode, graderID *string) (dto.SessionSummary, error) {
	ctx, span := m.tracer.Start(ctx, "grading.start", trace.WithAttributes(
		attribute.String("grading.submission_id", submissionID),
		attribute.String("grading.mode", string(mode)),
	))
	defer span.End()
	timer := observability.StartOperation("start_grading")

	summary, err := m.startGrading(ctx, submissionID, mode, graderID)
	timer.Done(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorReason(err))
		return dto.SessionSummary{}, err
	}

	span.SetAttributes(
		attribute.String("grading.session_id", summary.ID),
		attribute.Int("grading.version", summary.Version),
	)
	return summary, nil
}

func (m *gradingSessionManager) startGrading(ctx context.Context, submissionID string, mode models.GradingMode, graderID *string) (dto.SessionSummary, error) {
	grader, err := normalizeGrader(mode, graderID)
	if err != nil {
		return dto.SessionSummary{}, err
	}

	submission, err := m.loadSubmission(ctx, submissionID)
	if err != nil {
		return dto.SessionSummary{}, err
	}

	if grader != nil {
		if err := m.requireGrader(ctx, *grader); err != nil {
			return dto.SessionSummary{}, err
		}
	}

	id, err := newSortableID()
	if err != nil {
		return dto.SessionSummary{}, err
	}

	session := models.GradingSession{
		ID:           id,
		SubmissionID: submission.ID,
		Status:       models.SessionStatusInProgress,
		Mode:         mode,
		GraderID:     grader,
		StartedAt:    m.now().UTC(),
	}

	var entries []models.GradingEntry
	err = m.deps.Transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		maxVersion, err := m.deps.Sessions.MaxVersion(ctx, submission.ID)
		if err != nil {
			return err
		}
		session.Version = maxVersion + 1

		if err := m.createSession(ctx, &session); err != nil {
			return err
		}

		entries, err = m.deps.Ledger.InitEntries(ctx, session.ID, questionSpecs(submission))
		return err
	})
	if err != nil {
		return dto.SessionSummary{}, err
	}

	m.logger.Info().
		Str("submission_id", session.SubmissionID).
		Str("session_id", session.ID).
		Int("version", session.Version).
		Str("mode", string(session.Mode)).
		Msg("grading session started")

	observability.SessionsTotal().WithLabelValues("started", string(session.Mode)).Inc()
	m.afterStart(ctx, session, "session.started")

	return dto.NewSessionSummary(session, 0, len(entries), true), nil
}

func (m *gradingSessionManager) CompleteGrading(ctx context.Context, sessionID string, comment *string) (dto.SessionSummary, error) {
	ctx, span := m.tracer.Start(ctx, "grading.complete", trace.WithAttributes(
		attribute.String("grading.session_id", sessionID),
	))
	defer span.End()
	timer := observability.StartOperation("complete_grading")

	summary, err := m.completeGrading(ctx, sessionID, comment)
	timer.Done(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorReason(err))
		return dto.SessionSummary{}, err
	}

	if summary.TotalScore != nil {
		span.SetAttributes(attribute.Int("grading.total_score", *summary.TotalScore))
	}
	return summary, nil
}

func (m *gradingSessionManager) completeGrading(ctx context.Context, sessionID string, comment *string) (dto.SessionSummary, error) {
	note := ""
	if comment != nil {
		note = strings.TrimSpace(m.sanitizer.Sanitize(*comment))
	}

	var session models.GradingSession
	var progress GradingProgress
	err := m.deps.Transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		session, err = m.deps.Sessions.GetByIDForUpdate(ctx, sessionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}

		if err := validateTransition(session.Status, models.SessionStatusCompleted); err != nil {
			return err
		}

		progress, err = m.deps.Ledger.Progress(ctx, session.ID)
		if err != nil {
			return err
		}
		if !progress.Complete() {
			return fmt.Errorf("%w (%d of %d graded)", ErrIncompleteGrading, progress.Graded, progress.Total)
		}

		total, err := m.deps.Ledger.TotalScore(ctx, session.ID)
		if err != nil {
			return err
		}

		completedAt := m.now().UTC()
		if err := m.deps.Sessions.MarkCompleted(ctx, session.ID, completedAt, total, note); err != nil {
			if errors.Is(err, repository.ErrStaleWrite) {
				return fmt.Errorf("%w: session %s changed while completing", ErrConcurrencyConflict, session.ID)
			}
			return err
		}

		session.Status = models.SessionStatusCompleted
		session.CompletedAt = &completedAt
		session.TotalScore = &total
		session.Comment = note
		return nil
	})
	if err != nil {
		return dto.SessionSummary{}, err
	}

	m.logger.Info().
		Str("submission_id", session.SubmissionID).
		Str("session_id", session.ID).
		Int("version", session.Version).
		Int("total_score", *session.TotalScore).
		Msg("grading session completed")

	observability.SessionsTotal().WithLabelValues("completed", string(session.Mode)).Inc()
	m.record(ctx, "session.completed", session, map[string]interface{}{
		"version":     session.Version,
		"total_score": *session.TotalScore,
	})
	m.publish(ctx, EventSessionCompleted, session, map[string]interface{}{
		"total_score": *session.TotalScore,
	})

	current, err := m.deps.Resolver.IsCurrent(ctx, session)
	if err != nil {
		m.logger.Warn().Err(err).Str("session_id", session.ID).Msg("failed to resolve current session after completion")
	}

	return dto.NewSessionSummary(session, progress.Graded, progress.Total, current), nil
}

func (m *gradingSessionManager) StartRegrading(ctx context.Context, submissionID string) (dto.SessionSummary, error) {
	ctx, span := m.tracer.Start(ctx, "grading.regrade", trace.WithAttributes(
		attribute.String("grading.submission_id", submissionID),
	))
	defer span.End()
	timer := observability.StartOperation("start_regrading")

	summary, err := m.startRegrading(ctx, submissionID)
	timer.Done(err)
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			observability.RegradeConflictsTotal().Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, errorReason(err))
		return dto.SessionSummary{}, err
	}

	span.SetAttributes(
		attribute.String("grading.session_id", summary.ID),
		attribute.Int("grading.version", summary.Version),
	)
	return summary, nil
}

func (m *gradingSessionManager) startRegrading(ctx context.Context, submissionID string) (dto.SessionSummary, error) {
	submission, err := m.loadSubmission(ctx, submissionID)
	if err != nil {
		return dto.SessionSummary{}, err
	}

	current, err := m.deps.Resolver.LatestFor(ctx, submission.ID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return dto.SessionSummary{}, fmt.Errorf("%w: submission %s has never been graded", ErrPriorGradingNotFinished, submission.ID)
		}
		return dto.SessionSummary{}, err
	}

	if current.Status != models.SessionStatusCompleted {
		return dto.SessionSummary{}, fmt.Errorf("%w: version %d is %s", ErrPriorGradingNotFinished, current.Version, current.Status)
	}
	if err := validateTransition(current.Status, models.SessionStatusRegraded); err != nil {
		return dto.SessionSummary{}, err
	}

	id, err := newSortableID()
	if err != nil {
		return dto.SessionSummary{}, err
	}

	next := models.GradingSession{
		ID:           id,
		SubmissionID: submission.ID,
		Version:      current.Version + 1,
		Status:       models.SessionStatusInProgress,
		Mode:         models.GradingModeAuto,
		StartedAt:    m.now().UTC(),
	}

	var entries []models.GradingEntry
	err = m.deps.Transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := m.deps.Sessions.TransitionStatus(ctx, current.ID, models.SessionStatusCompleted, models.SessionStatusRegraded); err != nil {
			if errors.Is(err, repository.ErrStaleWrite) {
				return fmt.Errorf("%w: version %d of submission %s was superseded concurrently", ErrConcurrencyConflict, current.Version, submission.ID)
			}
			return err
		}

		if err := m.createSession(ctx, &next); err != nil {
			return err
		}

		entries, err = m.deps.Ledger.InitEntries(ctx, next.ID, questionSpecs(submission))
		return err
	})
	if err != nil {
		return dto.SessionSummary{}, err
	}

	current.Status = models.SessionStatusRegraded

	m.logger.Info().
		Str("submission_id", submission.ID).
		Str("previous_session_id", current.ID).
		Str("session_id", next.ID).
		Int("version", next.Version).
		Msg("regrading started")

	observability.SessionsTotal().WithLabelValues("regraded", string(current.Mode)).Inc()
	observability.SessionsTotal().WithLabelValues("started", string(next.Mode)).Inc()
	m.publish(ctx, EventSessionRegraded, current, map[string]interface{}{
		"superseded_by": next.ID,
	})
	m.afterStart(ctx, next, "session.regrade_started")

	return dto.NewSessionSummary(next, 0, len(entries), true), nil
}

func (m *gradingSessionManager) createSession(ctx context.Context, session *models.GradingSession) error {
	if err := m.deps.Sessions.Create(ctx, session); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return fmt.Errorf("%w: version %d of submission %s already exists", ErrConcurrencyConflict, session.Version, session.SubmissionID)
		}
		return err
	}
	return nil
}

func (m *gradingSessionManager) loadSubmission(ctx context.Context, submissionID string) (models.ExamSubmission, error) {
	submission, err := m.deps.Submissions.GetWithAnswers(ctx, strings.TrimSpace(submissionID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ExamSubmission{}, ErrSubmissionNotFound
		}
		return models.ExamSubmission{}, err
	}
	if len(submission.Answers) == 0 {
		return models.ExamSubmission{}, ErrEmptyQuestionSet
	}
	return submission, nil
}

func (m *gradingSessionManager) requireGrader(ctx context.Context, graderID string) error {
	exists, err := m.deps.Graders.Exists(ctx, graderID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrGraderNotFound
	}
	return nil
}

func (m *gradingSessionManager) afterStart(ctx context.Context, session models.GradingSession, action string) {
	m.record(ctx, action, session, map[string]interface{}{
		"version": session.Version,
		"mode":    string(session.Mode),
	})
	m.publish(ctx, EventSessionStarted, session, map[string]interface{}{
		"mode": string(session.Mode),
	})

	if session.Mode == models.GradingModeAuto && m.deps.AutoScoring != nil {
		m.deps.AutoScoring.Enqueue(session.ID)
	}
}

func (m *gradingSessionManager) record(ctx context.Context, action string, session models.GradingSession, metadata map[string]interface{}) {
	if m.deps.Activity == nil {
		return
	}
	metadata["version"] = session.Version
	if err := m.deps.Activity.Record(ctx, ActivityEntry{
		Action:       action,
		EntityType:   "session",
		EntityID:     session.ID,
		SubmissionID: session.SubmissionID,
		Metadata:     metadata,
	}); err != nil {
		m.logger.Warn().Err(err).Str("session_id", session.ID).Str("action", action).Msg("failed to record grading activity")
	}
}

func (m *gradingSessionManager) publish(ctx context.Context, eventType string, session models.GradingSession, data map[string]interface{}) {
	if m.deps.Events == nil {
		return
	}
	m.deps.Events.Publish(ctx, GradingEvent{
		Type:         eventType,
		SubmissionID: session.SubmissionID,
		SessionID:    session.ID,
		Version:      session.Version,
		Status:       session.Status,
		Data:         data,
	})
}

func normalizeGrader(mode models.GradingMode, graderID *string) (*string, error) {
	if !mode.Valid() {
		return nil, ErrInvalidMode
	}

	var grader *string
	if graderID != nil {
		if trimmed := strings.TrimSpace(*graderID); trimmed != "" {
			grader = &trimmed
		}
	}

	switch mode {
	case models.GradingModeManual:
		if grader == nil {
			return nil, ErrGraderRequired
		}
	case models.GradingModeAuto:
		if grader != nil {
			return nil, ErrGraderForbidden
		}
	}
	return grader, nil
}

func questionSpecs(submission models.ExamSubmission) []QuestionSpec {
	specs := make([]QuestionSpec, 0, len(submission.Answers))
	for _, answer := range submission.Answers {
		specs = append(specs, QuestionSpec{
			QuestionID: answer.QuestionID,
			AnswerID:   answer.ID,
			Position:   answer.Position,
			MaxScore:   answer.MaxScore,
		})
	}
	return specs
}
