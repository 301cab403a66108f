package models

import (
	"time"

	"gorm.io/datatypes"
)

// GradingMethod records how an individual entry was last scored.
type GradingMethod string

const (
	GradingMethodAuto   GradingMethod = "auto"
	GradingMethodManual GradingMethod = "manual"
)

// GradingEntry holds the result of one question within a grading session.
type GradingEntry struct {
	ID            string            `gorm:"primaryKey;size:36" json:"id"`
	SessionID     string            `gorm:"size:36;not null;uniqueIndex:idx_grading_entries_session_question,priority:1" json:"session_id"`
	QuestionID    string            `gorm:"size:36;not null;uniqueIndex:idx_grading_entries_session_question,priority:2" json:"question_id"`
	AnswerID      string            `gorm:"size:36;not null" json:"answer_id"`
	Position      int               `gorm:"not null;default:0" json:"position"`
	IsCorrect     *bool             `json:"is_correct"`
	Score         int               `gorm:"not null;default:0" json:"score"`
	MaxScore      int               `gorm:"not null" json:"max_score"`
	GradingMethod GradingMethod     `gorm:"size:16;not null" json:"grading_method"`
	Confidence    *float64          `json:"confidence"`
	Feedback      string            `gorm:"type:text" json:"feedback"`
	AnalysisNotes string            `gorm:"type:text" json:"analysis_notes"`
	Details       datatypes.JSONMap `gorm:"type:json" json:"details"`
	GradedBy      *string           `gorm:"size:36" json:"graded_by"`
	GradedAt      *time.Time        `json:"graded_at"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// IsGraded reports whether the entry has received a verdict.
func (e GradingEntry) IsGraded() bool {
	return e.IsCorrect != nil
}
