package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/repository"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

type stubActivityRecorder struct {
	mu      sync.Mutex
	entries []ActivityEntry
}

func (s *stubActivityRecorder) Record(_ context.Context, entry ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubActivityRecorder) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	actions := make([]string, 0, len(s.entries))
	for _, entry := range s.entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []GradingEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event GradingEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}

type countingTrigger struct {
	mu       sync.Mutex
	sessions []string
}

func (c *countingTrigger) Enqueue(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = append(c.sessions, sessionID)
}

type gradingFixture struct {
	db          *gorm.DB
	tx          repository.Transactor
	sessions    repository.GradingSessionRepository
	entries     repository.GradingEntryRepository
	submissions repository.SubmissionRepository
	graders     repository.GraderRepository
	ledger      QuestionResultLedger
	resolver    LatestVersionResolver
	manager     GradingSessionManager
	overrides   ManualOverrideProcessor
	results     GradingResultService
	activity    *stubActivityRecorder
	events      *recordingPublisher
	trigger     *countingTrigger
}

func setupGradingFixture(t *testing.T) *gradingFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:grading_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
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

	f := &gradingFixture{
		db:          db,
		tx:          repository.NewTransactor(db),
		sessions:    repository.NewGradingSessionRepository(db),
		entries:     repository.NewGradingEntryRepository(db),
		submissions: repository.NewSubmissionRepository(db),
		graders:     repository.NewGraderRepository(db),
		activity:    &stubActivityRecorder{},
		events:      &recordingPublisher{},
		trigger:     &countingTrigger{},
	}
	f.ledger = NewQuestionResultLedger(f.tx, f.sessions, f.entries, f.events, testLogger())
	f.resolver = NewLatestVersionResolver(f.tx, f.sessions)
	f.manager = f.newManager(f.resolver)
	f.overrides = NewManualOverrideProcessor(OverrideDependencies{
		Transactor: f.tx,
		Sessions:   f.sessions,
		Entries:    f.entries,
		Graders:    f.graders,
		Ledger:     f.ledger,
		Resolver:   f.resolver,
		Events:     f.events,
		Activity:   f.activity,
	}, testLogger())
	f.results = NewGradingResultService(f.tx, f.sessions, f.entries, f.submissions, f.resolver, testLogger())

	return f
}

func (f *gradingFixture) newManager(resolver LatestVersionResolver) GradingSessionManager {
	return NewGradingSessionManager(SessionManagerDependencies{
		Transactor:  f.tx,
		Sessions:    f.sessions,
		Submissions: f.submissions,
		Graders:     f.graders,
		Ledger:      f.ledger,
		Resolver:    resolver,
		Events:      f.events,
		Activity:    f.activity,
		AutoScoring: f.trigger,
	}, testLogger())
}

// seedSubmission stores a submission with one question per max score.
func (f *gradingFixture) seedSubmission(t *testing.T, maxScores ...int) models.ExamSubmission {
	t.Helper()

	submission := models.ExamSubmission{
		ID:          uuid.NewString(),
		ExamID:      "exam-1",
		StudentID:   "student-1",
		SubmittedAt: time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC),
	}
	for i, maxScore := range maxScores {
		submission.Answers = append(submission.Answers, models.SubmissionAnswer{
			ID:              uuid.NewString(),
			QuestionID:      fmt.Sprintf("q%d", i+1),
			Position:        i + 1,
			MaxScore:        maxScore,
			QuestionText:    fmt.Sprintf("Question %d", i+1),
			AnswerText:      fmt.Sprintf("Answer %d", i+1),
			ReferenceAnswer: fmt.Sprintf("Reference %d", i+1),
		})
	}
	require.NoError(t, f.db.Create(&submission).Error)
	return submission
}

func (f *gradingFixture) seedGrader(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.db.Create(&models.Grader{ID: id, DisplayName: "Grader " + id, Active: true}).Error)
}

func (f *gradingFixture) listEntries(t *testing.T, sessionID string) []models.GradingEntry {
	t.Helper()
	entries, err := f.entries.ListBySession(context.Background(), sessionID)
	require.NoError(t, err)
	return entries
}

func (f *gradingFixture) session(t *testing.T, sessionID string) models.GradingSession {
	t.Helper()
	session, err := f.sessions.GetByID(context.Background(), sessionID)
	require.NoError(t, err)
	return session
}

// scoreAll records automatic scores in question order.
func (f *gradingFixture) scoreAll(t *testing.T, sessionID string, scores ...int) {
	t.Helper()
	entries := f.listEntries(t, sessionID)
	require.Len(t, entries, len(scores))
	for i, entry := range entries {
		_, err := f.ledger.RecordAutoScore(context.Background(), entry.ID, AutoScore{
			IsCorrect:  scores[i] == entry.MaxScore,
			Score:      scores[i],
			Confidence: 0.9,
		})
		require.NoError(t, err)
	}
}

// gradedVersion walks a submission through start, scoring and completion.
func (f *gradingFixture) gradedVersion(t *testing.T, submissionID string, scores ...int) models.GradingSession {
	t.Helper()
	ctx := context.Background()

	summary, err := f.manager.StartGrading(ctx, submissionID, models.GradingModeAuto, nil)
	require.NoError(t, err)
	f.scoreAll(t, summary.ID, scores...)
	_, err = f.manager.CompleteGrading(ctx, summary.ID, nil)
	require.NoError(t, err)
	return f.session(t, summary.ID)
}
