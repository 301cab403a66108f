package service

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the grading subsystem. Specific errors wrap one of
// these so callers can branch on either level with errors.Is.
var (
	ErrNotFound                = errors.New("not found")
	ErrValidation              = errors.New("validation failed")
	ErrInvalidStateTransition  = errors.New("invalid session state transition")
	ErrIncompleteGrading       = errors.New("grading incomplete: ungraded entries remain")
	ErrPriorGradingNotFinished = errors.New("current grading session is not completed")
	ErrSessionImmutable        = errors.New("grading session has been regraded and is immutable")
	ErrConcurrencyConflict     = errors.New("concurrent grading update, retry with fresh state")
)

var (
	ErrSubmissionNotFound = fmt.Errorf("submission %w", ErrNotFound)
	ErrSessionNotFound    = fmt.Errorf("grading session %w", ErrNotFound)
	ErrEntryNotFound      = fmt.Errorf("grading entry %w", ErrNotFound)
	ErrGraderNotFound     = fmt.Errorf("grader %w", ErrNotFound)

	ErrScoreOutOfRange      = fmt.Errorf("%w: score outside [0, max_score]", ErrValidation)
	ErrConfidenceOutOfRange = fmt.Errorf("%w: confidence outside [0, 1]", ErrValidation)
	ErrGraderRequired       = fmt.Errorf("%w: grader is required for manual grading", ErrValidation)
	ErrGraderForbidden      = fmt.Errorf("%w: grader must not be set for automatic grading", ErrValidation)
	ErrInvalidMode          = fmt.Errorf("%w: unknown grading mode", ErrValidation)
	ErrManualScoreLocked    = fmt.Errorf("%w: entry already scored manually", ErrValidation)
	ErrEmptyQuestionSet     = fmt.Errorf("%w: submission has no questions", ErrValidation)
)
