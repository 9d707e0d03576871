package domain

import "time"

// AttemptStatus is the persisted lifecycle of an attempt.
type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptSubmitted  AttemptStatus = "submitted"
)

// AttemptRecord is the stored form of an attempt.
type AttemptRecord struct {
	ID            string        `json:"id"`
	QuizID        string        `json:"quizId"`
	StudentID     string        `json:"studentId"`
	QuestionOrder []string      `json:"questionOrder"`
	Answers       Answers       `json:"answers"`
	Status        AttemptStatus `json:"status"`
	StartedAt     time.Time     `json:"startedAt"`
	Deadline      *time.Time    `json:"deadline,omitempty"` // nil for untimed quizzes
	SavedAt       *time.Time    `json:"savedAt,omitempty"`
	SubmittedAt   *time.Time    `json:"submittedAt,omitempty"`
	Result        *SubmitResult `json:"result,omitempty"`
}

// NewAttemptRecord starts an attempt at now. The deadline is fixed here so a
// resumed attempt keeps counting down from the original start.
func NewAttemptRecord(id string, quiz Quiz, studentID string, order []string, now time.Time) AttemptRecord {
	rec := AttemptRecord{
		ID:            id,
		QuizID:        quiz.ID,
		StudentID:     studentID,
		QuestionOrder: order,
		Answers:       make(Answers),
		Status:        AttemptInProgress,
		StartedAt:     now,
	}
	if limit := quiz.TimeLimitSeconds(); limit != nil {
		deadline := now.Add(time.Duration(*limit) * time.Second)
		rec.Deadline = &deadline
	}
	return rec
}

// RemainingSeconds is the time left at now, clamped at zero. It returns nil
// for untimed attempts.
func (r AttemptRecord) RemainingSeconds(now time.Time) *int {
	if r.Deadline == nil {
		return nil
	}
	left := int(r.Deadline.Sub(now).Seconds())
	if left < 0 {
		left = 0
	}
	return &left
}

// Session rebuilds the in-progress session for resume.
func (r AttemptRecord) Session(quiz Quiz, now time.Time) AttemptSession {
	s := NewAttemptSession(r.ID, quiz, ReorderQuestions(quiz, r.QuestionOrder))
	s.StudentID = r.StudentID
	if r.Answers != nil {
		s.Answers = r.Answers.Clone()
	}
	s.Timer.RemainingSeconds = r.RemainingSeconds(now)
	if r.SavedAt != nil {
		saved := *r.SavedAt
		s.LastSavedAt = &saved
	}
	return s
}
