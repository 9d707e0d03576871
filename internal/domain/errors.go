package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAttemptNotFound is returned when an attempt id is unknown to the store.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrForbidden is returned when the caller may not open or start an attempt.
	ErrForbidden = errors.New("forbidden")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates an answer targets an unknown question.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrSaveFailed wraps autosave failures; recovered by the next trigger.
	ErrSaveFailed = errors.New("draft save failed")
	// ErrSubmitFailed wraps submission failures; surfaced with a retry affordance.
	ErrSubmitFailed = errors.New("submission failed")
	// ErrAlreadySubmitted is returned for a second submission of a terminal attempt.
	ErrAlreadySubmitted = errors.New("attempt already submitted")
	// ErrSessionClosed is returned when operating on a torn down or terminal session.
	ErrSessionClosed = errors.New("attempt session closed")
	// ErrAttemptInProgress is returned when a student already has an
	// in-progress attempt for the quiz.
	ErrAttemptInProgress = errors.New("attempt already in progress")
	// ErrAttemptBusy is returned when another instance is running the attempt.
	ErrAttemptBusy = errors.New("attempt is open on another instance")
	// ErrTimeUp is returned for answer edits after the countdown expired.
	ErrTimeUp = errors.New("attempt time is up")
)

// ErrorKind classifies errors for the read model.
type ErrorKind string

const (
	KindSaveFailed         ErrorKind = "save_failed"
	KindSubmitFailed       ErrorKind = "submit_failed"
	KindAlreadySubmitted   ErrorKind = "already_submitted"
	KindNotFound           ErrorKind = "not_found"
	KindForbidden          ErrorKind = "forbidden"
	KindInvalidAnswerShape ErrorKind = "invalid_answer_shape"
)

// KindOf maps an error onto the taxonomy. Unknown errors on the submit path
// are reported by callers as KindSubmitFailed.
func KindOf(err error) (ErrorKind, bool) {
	var shape *InvalidAnswerShapeError
	switch {
	case err == nil:
		return "", false
	case errors.As(err, &shape):
		return KindInvalidAnswerShape, true
	case errors.Is(err, ErrAlreadySubmitted):
		return KindAlreadySubmitted, true
	case errors.Is(err, ErrAttemptNotFound), errors.Is(err, ErrQuizNotFound):
		return KindNotFound, true
	case errors.Is(err, ErrForbidden):
		return KindForbidden, true
	case errors.Is(err, ErrSaveFailed):
		return KindSaveFailed, true
	case errors.Is(err, ErrSubmitFailed):
		return KindSubmitFailed, true
	}
	return "", false
}

// InvalidAnswerShapeError reports a draft answer whose variant does not match
// its question. It indicates a defect in the caller.
type InvalidAnswerShapeError struct {
	QuestionID string
	Want       QuestionType
	Got        QuestionType
}

func (e *InvalidAnswerShapeError) Error() string {
	return fmt.Sprintf("invalid answer shape for question %s: want %s, got %s", e.QuestionID, e.Want, e.Got)
}
