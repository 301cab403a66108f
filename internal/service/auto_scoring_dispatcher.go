package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/observability"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
)

const (
	defaultScoringWorkers  = 4
	defaultScoringQueue    = 64
	defaultScoringDeadline = 2 * time.Minute
)

// AutoScoringDispatcher scores the ungraded entries of automatic sessions
// one question at a time, each result landing in its own transaction.
type AutoScoringDispatcher interface {
	AutoScoringTrigger
	Start(ctx context.Context)
	ScoreSession(ctx context.Context, sessionID string) (int, error)
}

// AutoScoringConfig tunes the dispatcher.
type AutoScoringConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

type autoScoringDispatcher struct {
	scorer      ai.QuestionScorer
	ledger      QuestionResultLedger
	sessions    repository.GradingSessionRepository
	entries     repository.GradingEntryRepository
	submissions repository.SubmissionRepository
	cfg         AutoScoringConfig
	queue       chan string
	started     atomic.Bool
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewAutoScoringDispatcher constructs the dispatcher around a question scorer.
func NewAutoScoringDispatcher(scorer ai.QuestionScorer, ledger QuestionResultLedger, sessions repository.GradingSessionRepository, entries repository.GradingEntryRepository, submissions repository.SubmissionRepository, cfg AutoScoringConfig, logger zerolog.Logger) AutoScoringDispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultScoringWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultScoringQueue
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultScoringDeadline
	}

	return &autoScoringDispatcher{
		scorer:      scorer,
		ledger:      ledger,
		sessions:    sessions,
		entries:     entries,
		submissions: submissions,
		cfg:         cfg,
		queue:       make(chan string, cfg.QueueSize),
		logger:      logger.With().Str("component", "auto_scoring_dispatcher").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-grading-api/internal/service/auto_scoring"),
	}
}

// Enqueue schedules a session without blocking the caller. When the queue
// is full the session is left for the broker ingestion path.
func (d *autoScoringDispatcher) Enqueue(sessionID string) {
	select {
	case d.queue <- sessionID:
		observability.ScoringJobsTotal().WithLabelValues("queued").Inc()
	default:
		observability.ScoringJobsTotal().WithLabelValues("dropped").Inc()
		d.logger.Warn().Str("session_id", sessionID).Msg("auto scoring queue full, session not scheduled")
	}
}

func (d *autoScoringDispatcher) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sessionID := <-d.queue:
				jobCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
				scored, err := d.ScoreSession(jobCtx, sessionID)
				cancel()
				if err != nil {
					d.logger.Error().Err(err).Str("session_id", sessionID).Msg("auto scoring failed")
					continue
				}
				d.logger.Info().Str("session_id", sessionID).Int("scored", scored).Msg("auto scoring finished")
			}
		}
	}()
}

// ScoreSession scores every ungraded entry of an in-progress session and
// returns how many results were recorded. Individual question failures are
// logged and leave the entry ungraded.
func (d *autoScoringDispatcher) ScoreSession(ctx context.Context, sessionID string) (int, error) {
	ctx, span := d.tracer.Start(ctx, "grading.auto_score_session", trace.WithAttributes(
		attribute.String("grading.session_id", sessionID),
	))
	defer span.End()

	session, err := d.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrSessionNotFound
		}
		return 0, err
	}
	if session.Status != models.SessionStatusInProgress {
		observability.ScoringJobsTotal().WithLabelValues("skipped").Inc()
		return 0, nil
	}

	pending, err := d.entries.ListUngraded(ctx, session.ID)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	answers, err := d.submissions.ListAnswers(ctx, session.SubmissionID)
	if err != nil {
		return 0, err
	}
	byID := make(map[string]models.SubmissionAnswer, len(answers))
	for _, answer := range answers {
		byID[answer.ID] = answer
	}

	var scored atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.cfg.Workers)

	for _, entry := range pending {
		entry := entry // per-iteration copy; go.mod targets go 1.21 loop semantics
		answer, ok := byID[entry.AnswerID]
		if !ok {
			d.logger.Warn().Str("entry_id", entry.ID).Str("answer_id", entry.AnswerID).Msg("answer missing for grading entry")
			observability.ScoringJobsTotal().WithLabelValues("failed").Inc()
			continue
		}

		group.Go(func() error {
			if err := d.scoreEntry(groupCtx, entry, answer); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				observability.ScoringJobsTotal().WithLabelValues("failed").Inc()
				d.logger.Warn().Err(err).Str("entry_id", entry.ID).Msg("question scoring failed")
				return nil
			}
			observability.ScoringJobsTotal().WithLabelValues("scored").Inc()
			scored.Add(1)
			return nil
		})
	}

	err = group.Wait()
	span.SetAttributes(attribute.Int("grading.scored", int(scored.Load())))
	return int(scored.Load()), err
}

func (d *autoScoringDispatcher) scoreEntry(ctx context.Context, entry models.GradingEntry, answer models.SubmissionAnswer) error {
	result, err := d.scorer.Score(ctx, ai.QuestionScoringInput{
		QuestionID:      entry.QuestionID,
		QuestionText:    answer.QuestionText,
		ReferenceAnswer: answer.ReferenceAnswer,
		StudentAnswer:   answer.AnswerText,
		MaxScore:        entry.MaxScore,
	})
	if err != nil {
		return err
	}

	_, err = d.ledger.RecordAutoScore(ctx, entry.ID, AutoScore{
		IsCorrect:  result.IsCorrect,
		Score:      result.Score,
		Confidence: result.Confidence,
		Feedback:   result.Feedback,
		Analysis:   result.Analysis,
		Details:    result.Details,
	})
	return err
}
