package dto

import (
	"time"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// StartGradingRequest opens a new grading pass for a submission.
type StartGradingRequest struct {
	Mode     string  `json:"mode" validate:"required,oneof=auto manual"`
	GraderID *string `json:"grader_id" validate:"omitempty,min=1,max=36"`
}

// CompleteGradingRequest finalizes a grading pass.
type CompleteGradingRequest struct {
	Comment *string `json:"comment" validate:"omitempty,max=4000"`
}

// ManualOverrideRequest carries a human correction for one entry.
type ManualOverrideRequest struct {
	GraderID  string `json:"grader_id" validate:"omitempty,max=36"`
	Score     *int   `json:"score" validate:"required,gte=0"`
	IsCorrect *bool  `json:"is_correct" validate:"required"`
	Feedback  string `json:"feedback" validate:"max=4000"`
}

// AutoScoreRequest is a scoring provider result for one entry.
type AutoScoreRequest struct {
	EntryID    string                 `json:"entry_id,omitempty" validate:"omitempty,max=36"`
	IsCorrect  *bool                  `json:"is_correct" validate:"required"`
	Score      *int                   `json:"score" validate:"required,gte=0"`
	Confidence *float64               `json:"confidence" validate:"required,gte=0,lte=1"`
	Feedback   string                 `json:"feedback" validate:"max=4000"`
	Analysis   string                 `json:"analysis" validate:"max=8000"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// LatestSummariesRequest asks for the current session of several submissions.
type LatestSummariesRequest struct {
	SubmissionIDs []string `json:"submission_ids" validate:"required,min=1,max=200,dive,required,max=36"`
}

// SessionSummary serializes a grading session with its derived progress.
type SessionSummary struct {
	ID            string     `json:"id"`
	SubmissionID  string     `json:"submission_id"`
	Version       int        `json:"version"`
	Status        string     `json:"status"`
	Mode          string     `json:"mode"`
	GraderID      *string    `json:"grader_id"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	TotalScore    *int       `json:"total_score"`
	Comment       string     `json:"comment"`
	Progress      float64    `json:"progress"`
	GradedEntries int        `json:"graded_entries"`
	TotalEntries  int        `json:"total_entries"`
	IsCurrent     bool       `json:"is_current"`
}

// EntrySummary serializes one question result.
type EntrySummary struct {
	ID            string                 `json:"id"`
	SessionID     string                 `json:"session_id"`
	QuestionID    string                 `json:"question_id"`
	AnswerID      string                 `json:"answer_id"`
	Position      int                    `json:"position"`
	IsCorrect     *bool                  `json:"is_correct"`
	Score         int                    `json:"score"`
	MaxScore      int                    `json:"max_score"`
	GradingMethod string                 `json:"grading_method"`
	Confidence    *float64               `json:"confidence"`
	Feedback      string                 `json:"feedback"`
	AnalysisNotes string                 `json:"analysis_notes"`
	Details       map[string]interface{} `json:"details,omitempty"`
	GradedBy      *string                `json:"graded_by"`
	GradedAt      *time.Time             `json:"graded_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// GradingResultResponse is a session together with its entries.
type GradingResultResponse struct {
	Session SessionSummary `json:"session"`
	Entries []EntrySummary `json:"entries"`
}

// ResultHistoryResponse lists every grading pass of a submission by version.
type ResultHistoryResponse struct {
	SubmissionID string           `json:"submission_id"`
	Sessions     []SessionSummary `json:"sessions"`
}

// ManualOverrideResponse returns the corrected entry and its owning session.
type ManualOverrideResponse struct {
	Entry   EntrySummary   `json:"entry"`
	Session SessionSummary `json:"session"`
}

// StaleSessionResponse flags an in-progress session that has stopped moving.
type StaleSessionResponse struct {
	Session    SessionSummary `json:"session"`
	Superseded bool           `json:"superseded"`
	Age        string         `json:"age"`
}

// GradingEventResponse is the wire shape of a grading lifecycle event.
type GradingEventResponse struct {
	Type         string                 `json:"type"`
	SubmissionID string                 `json:"submission_id"`
	SessionID    string                 `json:"session_id"`
	EntryID      string                 `json:"entry_id,omitempty"`
	Version      int                    `json:"version"`
	Status       string                 `json:"status"`
	Data         map[string]interface{} `json:"data,omitempty"`
	OccurredAt   time.Time              `json:"occurred_at"`
}

// NewSessionSummary converts a session model and its entry counters into a DTO.
func NewSessionSummary(session models.GradingSession, graded, total int, current bool) SessionSummary {
	progress := 0.0
	if total > 0 {
		progress = float64(graded) / float64(total)
	}

	return SessionSummary{
		ID:            session.ID,
		SubmissionID:  session.SubmissionID,
		Version:       session.Version,
		Status:        string(session.Status),
		Mode:          string(session.Mode),
		GraderID:      session.GraderID,
		StartedAt:     session.StartedAt,
		CompletedAt:   session.CompletedAt,
		TotalScore:    session.TotalScore,
		Comment:       session.Comment,
		Progress:      progress,
		GradedEntries: graded,
		TotalEntries:  total,
		IsCurrent:     current,
	}
}

// NewEntrySummary converts an entry model into a DTO.
func NewEntrySummary(entry models.GradingEntry) EntrySummary {
	var details map[string]interface{}
	if len(entry.Details) > 0 {
		details = map[string]interface{}(entry.Details)
	}

	return EntrySummary{
		ID:            entry.ID,
		SessionID:     entry.SessionID,
		QuestionID:    entry.QuestionID,
		AnswerID:      entry.AnswerID,
		Position:      entry.Position,
		IsCorrect:     entry.IsCorrect,
		Score:         entry.Score,
		MaxScore:      entry.MaxScore,
		GradingMethod: string(entry.GradingMethod),
		Confidence:    entry.Confidence,
		Feedback:      entry.Feedback,
		AnalysisNotes: entry.AnalysisNotes,
		Details:       details,
		GradedBy:      entry.GradedBy,
		GradedAt:      entry.GradedAt,
		UpdatedAt:     entry.UpdatedAt,
	}
}

// NewEntrySummarySlice converts a list of entries.
func NewEntrySummarySlice(entries []models.GradingEntry) []EntrySummary {
	result := make([]EntrySummary, 0, len(entries))
	for _, entry := range entries {
		result = append(result, NewEntrySummary(entry))
	}
	return result
}
