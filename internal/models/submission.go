package models

import "time"

// ExamSubmission is a student's completed exam sheet. The grading service only
// reads it; the question set is fixed once the submission exists.
type ExamSubmission struct {
	ID          string             `gorm:"primaryKey;size:36" json:"id"`
	ExamID      string             `gorm:"size:36;index;not null" json:"exam_id"`
	StudentID   string             `gorm:"size:36;index;not null" json:"student_id"`
	SubmittedAt time.Time          `gorm:"not null" json:"submitted_at"`
	CreatedAt   time.Time          `json:"created_at"`
	Answers     []SubmissionAnswer `gorm:"foreignKey:SubmissionID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"answers"`
}

// SubmissionAnswer links one question of the exam sheet to the student's answer.
type SubmissionAnswer struct {
	ID              string `gorm:"primaryKey;size:36" json:"id"`
	SubmissionID    string `gorm:"size:36;not null;uniqueIndex:idx_submission_answers_question" json:"submission_id"`
	QuestionID      string `gorm:"size:36;not null;uniqueIndex:idx_submission_answers_question" json:"question_id"`
	Position        int    `gorm:"not null;default:0" json:"position"`
	MaxScore        int    `gorm:"not null" json:"max_score"`
	QuestionText    string `gorm:"type:text" json:"question_text"`
	AnswerText      string `gorm:"type:text" json:"answer_text"`
	ReferenceAnswer string `gorm:"type:text" json:"reference_answer"`
}

// TableName keeps the answer table name stable regardless of naming strategy.
func (SubmissionAnswer) TableName() string {
	return "submission_answers"
}
