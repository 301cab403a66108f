package models

import "time"

// SessionStatus is the lifecycle state of a grading session.
type SessionStatus string

const (
	// SessionStatusInProgress marks a pass that is still collecting scores.
	SessionStatusInProgress SessionStatus = "in_progress"
	// SessionStatusCompleted marks a finalized pass with a total score.
	SessionStatusCompleted SessionStatus = "completed"
	// SessionStatusRegraded marks a completed pass superseded by a newer version.
	SessionStatusRegraded SessionStatus = "regraded"
)

// Valid reports whether the status belongs to the closed set.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusInProgress, SessionStatusCompleted, SessionStatusRegraded:
		return true
	}
	return false
}

// GradingMode describes who drives a grading pass.
type GradingMode string

const (
	GradingModeAuto   GradingMode = "auto"
	GradingModeManual GradingMode = "manual"
)

// Valid reports whether the mode is known.
func (m GradingMode) Valid() bool {
	return m == GradingModeAuto || m == GradingModeManual
}

// GradingSession is one versioned grading pass over a submission.
type GradingSession struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	SubmissionID string         `gorm:"size:36;not null;uniqueIndex:idx_grading_sessions_submission_version,priority:1" json:"submission_id"`
	Version      int            `gorm:"not null;uniqueIndex:idx_grading_sessions_submission_version,priority:2" json:"version"`
	Status       SessionStatus  `gorm:"size:32;not null;index" json:"status"`
	Mode         GradingMode    `gorm:"size:16;not null" json:"mode"`
	GraderID     *string        `gorm:"size:36" json:"grader_id"`
	StartedAt    time.Time      `gorm:"not null" json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at"`
	TotalScore   *int           `json:"total_score"`
	Comment      string         `gorm:"type:text" json:"comment"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Entries      []GradingEntry `gorm:"foreignKey:SessionID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"entries,omitempty"`
}

// IsMutable reports whether entries of the session may still change.
func (s GradingSession) IsMutable() bool {
	return s.Status != SessionStatusRegraded
}
