package ai

import "context"

// QuestionScoringInput contains what a model needs to score one answer.
type QuestionScoringInput struct {
	QuestionID      string
	QuestionText    string
	ReferenceAnswer string
	StudentAnswer   string
	MaxScore        int
}

// QuestionScoringResult is the structured verdict returned by a scorer.
type QuestionScoringResult struct {
	IsCorrect  bool                   `json:"is_correct"`
	Score      int                    `json:"score"`
	Confidence float64                `json:"confidence"`
	Feedback   string                 `json:"feedback"`
	Analysis   string                 `json:"analysis"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// QuestionScorer describes a model capable of scoring a single exam answer.
type QuestionScorer interface {
	Score(ctx context.Context, input QuestionScoringInput) (QuestionScoringResult, error)
}
