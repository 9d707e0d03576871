package attempt

import (
	"errors"
	"fmt"

	"quiz-attempt-service/internal/domain"
)

// SubmissionPhase is the submission sub-machine state.
// idle -> confirming -> submitting -> submitted | idle/confirming with error.
type SubmissionPhase string

const (
	PhaseIdle       SubmissionPhase = "idle"
	PhaseConfirming SubmissionPhase = "confirming"
	PhaseSubmitting SubmissionPhase = "submitting"
	PhaseSubmitted  SubmissionPhase = "submitted"
)

const alreadySubmittedNotice = "This attempt was already submitted."

// Submission owns the confirm -> submit -> result flow.
type Submission struct {
	phase      SubmissionPhase
	auto       bool
	unanswered int
	lastErr    error
	result     *domain.SubmitResult
	notice     string
}

func NewSubmission() *Submission {
	return &Submission{phase: PhaseIdle}
}

// OpenConfirm moves idle -> confirming and returns the unanswered count.
func (s *Submission) OpenConfirm(total, answered int) (int, bool) {
	s.unanswered = total - answered
	if s.phase != PhaseIdle {
		return s.unanswered, false
	}
	s.phase = PhaseConfirming
	s.auto = false
	return s.unanswered, true
}

// CancelConfirm closes the dialog without side effects.
func (s *Submission) CancelConfirm() bool {
	if s.phase != PhaseConfirming {
		return false
	}
	s.phase = PhaseIdle
	return true
}

// BeginManual starts a user-confirmed submission. It is false while a
// submission is already running or done, so duplicate confirms are ignored.
func (s *Submission) BeginManual() bool {
	if s.phase != PhaseIdle && s.phase != PhaseConfirming {
		return false
	}
	s.phase = PhaseSubmitting
	s.auto = false
	s.lastErr = nil
	return true
}

// BeginAuto starts a time-up submission, skipping confirmation.
func (s *Submission) BeginAuto() bool {
	if s.phase != PhaseIdle && s.phase != PhaseConfirming {
		return false
	}
	s.phase = PhaseSubmitting
	s.auto = true
	s.lastErr = nil
	return true
}

// MarkAuto switches an in-flight manual submission onto the auto path, so a
// failure lands in idle-with-error rather than back in the dialog.
func (s *Submission) MarkAuto() {
	if s.phase == PhaseSubmitting {
		s.auto = true
	}
}

// Settle applies the submit outcome and reports whether the attempt is now
// terminal. AlreadySubmitted counts as success with a notice.
func (s *Submission) Settle(result domain.SubmitResult, err error) bool {
	if s.phase != PhaseSubmitting {
		return s.phase == PhaseSubmitted
	}
	switch {
	case err == nil:
		s.phase = PhaseSubmitted
		s.result = &result
		s.lastErr = nil
		return true
	case errors.Is(err, domain.ErrAlreadySubmitted):
		s.phase = PhaseSubmitted
		s.notice = alreadySubmittedNotice
		s.lastErr = nil
		return true
	}
	if !errors.Is(err, domain.ErrSubmitFailed) {
		err = fmt.Errorf("%w: %v", domain.ErrSubmitFailed, err)
	}
	s.lastErr = err
	if s.auto {
		s.phase = PhaseIdle
	} else {
		s.phase = PhaseConfirming
	}
	return false
}

func (s *Submission) Phase() SubmissionPhase        { return s.phase }
func (s *Submission) Auto() bool                    { return s.auto }
func (s *Submission) LastErr() error                { return s.lastErr }
func (s *Submission) Result() *domain.SubmitResult  { return s.result }
func (s *Submission) Notice() string                { return s.notice }
func (s *Submission) Terminal() bool                { return s.phase == PhaseSubmitted }
func (s *Submission) Unanswered() int               { return s.unanswered }
func (s *Submission) dialogOpen() bool              { return s.phase == PhaseConfirming || (s.phase == PhaseSubmitting && !s.auto) }
func (s *Submission) submitting() bool              { return s.phase == PhaseSubmitting }
func (s *Submission) retryable() bool               { return s.lastErr != nil && s.phase != PhaseSubmitting }

// UnansweredWarning is the confirmation prompt text for n unanswered questions.
func UnansweredWarning(n int) string {
	switch {
	case n <= 0:
		return ""
	case n == 1:
		return "You have 1 unanswered question."
	}
	return fmt.Sprintf("You have %d unanswered questions.", n)
}
