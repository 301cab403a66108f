package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/observability"
	"github.com/noah-isme/gema-grading-api/internal/repository"
)

// QuestionSpec describes one question seeded into a grading session.
type QuestionSpec struct {
	QuestionID string
	AnswerID   string
	Position   int
	MaxScore   int
}

// AutoScore is a scoring provider verdict for one entry.
type AutoScore struct {
	IsCorrect  bool
	Score      int
	Confidence float64
	Feedback   string
	Analysis   string
	Details    map[string]interface{}
}

// ManualScore is a grader verdict for one entry.
type ManualScore struct {
	GraderID  string
	IsCorrect bool
	Score     int
	Feedback  string
}

// GradingProgress counts graded entries of a session.
type GradingProgress struct {
	Graded int
	Total  int
}

// Ratio returns the graded fraction, zero for an empty session.
func (p GradingProgress) Ratio() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Graded) / float64(p.Total)
}

// Complete reports whether every entry carries a verdict.
func (p GradingProgress) Complete() bool {
	return p.Total > 0 && p.Graded == p.Total
}

// QuestionResultLedger owns the per-question entries of grading sessions.
type QuestionResultLedger interface {
	InitEntries(ctx context.Context, sessionID string, specs []QuestionSpec) ([]models.GradingEntry, error)
	RecordAutoScore(ctx context.Context, entryID string, score AutoScore) (models.GradingEntry, error)
	RecordManualScore(ctx context.Context, entryID string, score ManualScore) (models.GradingEntry, error)
	Progress(ctx context.Context, sessionID string) (GradingProgress, error)
	TotalScore(ctx context.Context, sessionID string) (int, error)
}

type questionResultLedger struct {
	tx        repository.Transactor
	sessions  repository.GradingSessionRepository
	entries   repository.GradingEntryRepository
	events    GradingEventPublisher
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewQuestionResultLedger constructs the ledger. events may be nil.
func NewQuestionResultLedger(tx repository.Transactor, sessions repository.GradingSessionRepository, entries repository.GradingEntryRepository, events GradingEventPublisher, logger zerolog.Logger) QuestionResultLedger {
	return &questionResultLedger{
		tx:        tx,
		sessions:  sessions,
		entries:   entries,
		events:    events,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "question_result_ledger").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-grading-api/internal/service/ledger"),
		now:       time.Now,
	}
}

func (l *questionResultLedger) InitEntries(ctx context.Context, sessionID string, specs []QuestionSpec) ([]models.GradingEntry, error) {
	if len(specs) == 0 {
		return nil, ErrEmptyQuestionSet
	}

	entries := make([]models.GradingEntry, 0, len(specs))
	for _, spec := range specs {
		if spec.MaxScore < 0 {
			return nil, fmt.Errorf("%w: question %s has negative max score", ErrValidation, spec.QuestionID)
		}
		id, err := newSortableID()
		if err != nil {
			return nil, err
		}
		entries = append(entries, models.GradingEntry{
			ID:            id,
			SessionID:     sessionID,
			QuestionID:    spec.QuestionID,
			AnswerID:      spec.AnswerID,
			Position:      spec.Position,
			Score:         0,
			MaxScore:      spec.MaxScore,
			GradingMethod: models.GradingMethodAuto,
		})
	}

	err := l.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := l.entries.CreateBatch(ctx, entries); err != nil {
			if errors.Is(err, repository.ErrDuplicateKey) {
				return fmt.Errorf("%w: entries already seeded for session %s", ErrConcurrencyConflict, sessionID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func (l *questionResultLedger) RecordAutoScore(ctx context.Context, entryID string, score AutoScore) (models.GradingEntry, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.record_auto_score", trace.WithAttributes(
		attribute.String("grading.entry_id", entryID),
		attribute.Int("grading.score", score.Score),
	))
	defer span.End()

	owned := !repository.InTransaction(ctx)
	changed := false
	var session models.GradingSession
	var entry models.GradingEntry

	err := l.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		entry, session, err = l.loadMutable(ctx, entryID)
		if err != nil {
			return err
		}

		if err := validateScoreRange(score.Score, entry.MaxScore); err != nil {
			return err
		}
		if math.IsNaN(score.Confidence) || score.Confidence < 0 || score.Confidence > 1 {
			return ErrConfidenceOutOfRange
		}

		if entry.IsGraded() && entry.GradingMethod == models.GradingMethodManual {
			return ErrManualScoreLocked
		}

		feedback := l.sanitize(score.Feedback)
		analysis := l.sanitize(score.Analysis)
		if sameAutoResult(entry, score, feedback, analysis) {
			return nil
		}

		if session.Status != models.SessionStatusInProgress {
			return fmt.Errorf("%w: session %s is %s and no longer accepts automatic scores", ErrInvalidStateTransition, session.ID, session.Status)
		}

		isCorrect := score.IsCorrect
		confidence := score.Confidence
		gradedAt := l.now().UTC()
		entry.IsCorrect = &isCorrect
		entry.Score = score.Score
		entry.Confidence = &confidence
		entry.Feedback = feedback
		entry.AnalysisNotes = analysis
		entry.Details = toJSONMap(score.Details)
		entry.GradingMethod = models.GradingMethodAuto
		entry.GradedBy = nil
		entry.GradedAt = &gradedAt

		if err := l.entries.UpdateScore(ctx, &entry); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorReason(err))
		observability.AutoScoresTotal().WithLabelValues("rejected").Inc()
		return models.GradingEntry{}, err
	}

	if !changed {
		span.SetAttributes(attribute.Bool("grading.idempotent", true))
		observability.AutoScoresTotal().WithLabelValues("duplicate").Inc()
		return entry, nil
	}

	observability.AutoScoresTotal().WithLabelValues("accepted").Inc()
	if owned {
		l.publishEntryScored(ctx, session, entry)
	}

	return entry, nil
}

func (l *questionResultLedger) RecordManualScore(ctx context.Context, entryID string, score ManualScore) (models.GradingEntry, error) {
	graderID := strings.TrimSpace(score.GraderID)

	owned := !repository.InTransaction(ctx)
	var session models.GradingSession
	var entry models.GradingEntry

	err := l.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		entry, session, err = l.loadMutable(ctx, entryID)
		if err != nil {
			return err
		}

		if graderID == "" {
			return ErrGraderRequired
		}

		if err := validateScoreRange(score.Score, entry.MaxScore); err != nil {
			return err
		}

		isCorrect := score.IsCorrect
		gradedAt := l.now().UTC()
		entry.IsCorrect = &isCorrect
		entry.Score = score.Score
		entry.Confidence = nil
		entry.Feedback = l.sanitize(score.Feedback)
		entry.GradingMethod = models.GradingMethodManual
		entry.GradedBy = &graderID
		entry.GradedAt = &gradedAt

		return l.entries.UpdateScore(ctx, &entry)
	})
	if err != nil {
		return models.GradingEntry{}, err
	}

	if owned {
		l.publishEntryScored(ctx, session, entry)
	}

	return entry, nil
}

func (l *questionResultLedger) Progress(ctx context.Context, sessionID string) (GradingProgress, error) {
	counts, err := l.entries.Progress(ctx, sessionID)
	if err != nil {
		return GradingProgress{}, err
	}
	return GradingProgress{Graded: int(counts.Graded), Total: int(counts.Total)}, nil
}

func (l *questionResultLedger) TotalScore(ctx context.Context, sessionID string) (int, error) {
	return l.entries.SumScores(ctx, sessionID)
}

// loadMutable locks the session owning entryID, rejects regraded sessions and
// returns the entry as read under that lock.
func (l *questionResultLedger) loadMutable(ctx context.Context, entryID string) (models.GradingEntry, models.GradingSession, error) {
	return lockEntrySession(ctx, l.sessions, l.entries, entryID)
}

// lockEntrySession resolves the owning session, locks it, then re-reads the
// entry. A score committed by another writer while the lock was awaited is
// therefore visible to the caller.
func lockEntrySession(ctx context.Context, sessions repository.GradingSessionRepository, entries repository.GradingEntryRepository, entryID string) (models.GradingEntry, models.GradingSession, error) {
	owner, err := entries.GetByID(ctx, entryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.GradingEntry{}, models.GradingSession{}, ErrEntryNotFound
		}
		return models.GradingEntry{}, models.GradingSession{}, err
	}

	session, err := sessions.GetByIDForUpdate(ctx, owner.SessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.GradingEntry{}, models.GradingSession{}, ErrSessionNotFound
		}
		return models.GradingEntry{}, models.GradingSession{}, err
	}

	if !session.IsMutable() {
		return models.GradingEntry{}, models.GradingSession{}, ErrSessionImmutable
	}

	entry, err := entries.GetByID(ctx, entryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.GradingEntry{}, models.GradingSession{}, ErrEntryNotFound
		}
		return models.GradingEntry{}, models.GradingSession{}, err
	}

	return entry, session, nil
}

func (l *questionResultLedger) publishEntryScored(ctx context.Context, session models.GradingSession, entry models.GradingEntry) {
	if l.events == nil {
		return
	}
	l.events.Publish(ctx, GradingEvent{
		Type:         EventEntryScored,
		SubmissionID: session.SubmissionID,
		SessionID:    session.ID,
		EntryID:      entry.ID,
		Version:      session.Version,
		Status:       session.Status,
		Data: map[string]interface{}{
			"score":          entry.Score,
			"max_score":      entry.MaxScore,
			"is_correct":     entry.IsCorrect,
			"grading_method": string(entry.GradingMethod),
		},
	})
}

func (l *questionResultLedger) sanitize(input string) string {
	return strings.TrimSpace(l.sanitizer.Sanitize(input))
}

func validateScoreRange(score, maxScore int) error {
	if score < 0 || score > maxScore {
		return fmt.Errorf("%w (score %d, max %d)", ErrScoreOutOfRange, score, maxScore)
	}
	return nil
}

func sameAutoResult(entry models.GradingEntry, score AutoScore, feedback, analysis string) bool {
	if !entry.IsGraded() || entry.GradingMethod != models.GradingMethodAuto {
		return false
	}
	if *entry.IsCorrect != score.IsCorrect || entry.Score != score.Score {
		return false
	}
	if entry.Confidence == nil || math.Abs(*entry.Confidence-score.Confidence) > 1e-9 {
		return false
	}
	if entry.Feedback != feedback || entry.AnalysisNotes != analysis {
		return false
	}
	return reflect.DeepEqual(normalizeDetails(entry.Details), normalizeDetails(toJSONMap(score.Details)))
}

func normalizeDetails(details datatypes.JSONMap) map[string]interface{} {
	if len(details) == 0 {
		return nil
	}
	// Round-trip through JSON so numbers compare equally after persistence.
	raw, err := details.MarshalJSON()
	if err != nil {
		return map[string]interface{}(details)
	}
	var normalized datatypes.JSONMap
	if err := normalized.UnmarshalJSON(raw); err != nil {
		return map[string]interface{}(details)
	}
	return map[string]interface{}(normalized)
}

func toJSONMap(details map[string]interface{}) datatypes.JSONMap {
	if len(details) == 0 {
		return nil
	}
	result := datatypes.JSONMap{}
	for key, value := range details {
		result[key] = value
	}
	return result
}

func newSortableID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate identifier: %w", err)
	}
	return id.String(), nil
}

// errorReason maps an error onto a short span status label.
func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	case errors.Is(err, ErrInvalidStateTransition):
		return "invalid_state_transition"
	case errors.Is(err, ErrIncompleteGrading):
		return "incomplete_grading"
	case errors.Is(err, ErrPriorGradingNotFinished):
		return "prior_grading_not_finished"
	case errors.Is(err, ErrSessionImmutable):
		return "session_immutable"
	case errors.Is(err, ErrConcurrencyConflict):
		return "concurrency_conflict"
	default:
		return "internal_error"
	}
}
