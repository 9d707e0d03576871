package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quiz-attempt-service/internal/domain"
)

// QuizSource resolves quiz content for resume and grading.
type QuizSource interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// AttemptStore keeps attempts in process memory. It implements
// attempt.Store, attempt.ClockSource and app.AttemptRepository.
type AttemptStore struct {
	quizzes QuizSource
	now     func() time.Time

	mu       sync.Mutex
	attempts map[string]domain.AttemptRecord
}

func NewAttemptStore(quizzes QuizSource) *AttemptStore {
	return NewAttemptStoreWithClock(quizzes, time.Now)
}

// NewAttemptStoreWithClock is used by tests for deterministic deadlines.
func NewAttemptStoreWithClock(quizzes QuizSource, now func() time.Time) *AttemptStore {
	return &AttemptStore{
		quizzes:  quizzes,
		now:      now,
		attempts: make(map[string]domain.AttemptRecord),
	}
}

func (s *AttemptStore) CreateAttempt(_ context.Context, record domain.AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.attempts[record.ID]; exists {
		return fmt.Errorf("attempt %s already exists", record.ID)
	}
	if record.Status == domain.AttemptInProgress {
		for _, rec := range s.attempts {
			if rec.QuizID == record.QuizID && rec.StudentID == record.StudentID && rec.Status == domain.AttemptInProgress {
				return fmt.Errorf("%w: quiz %s student %s", domain.ErrAttemptInProgress, record.QuizID, record.StudentID)
			}
		}
	}
	if record.Answers == nil {
		record.Answers = make(domain.Answers)
	}
	s.attempts[record.ID] = record
	return nil
}

func (s *AttemptStore) LatestAttempt(_ context.Context, quizID, studentID string) (domain.AttemptRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		latest domain.AttemptRecord
		found  bool
	)
	for _, rec := range s.attempts {
		if rec.QuizID != quizID || rec.StudentID != studentID {
			continue
		}
		if !found || rec.StartedAt.After(latest.StartedAt) {
			latest, found = rec, true
		}
	}
	return latest, found, nil
}

// Get returns a copy of a stored attempt.
func (s *AttemptStore) Get(attemptID string) (domain.AttemptRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.attempts[attemptID]
	if ok {
		rec.Answers = rec.Answers.Clone()
	}
	return rec, ok
}

func (s *AttemptStore) LoadAttempt(ctx context.Context, attemptID string) (domain.Quiz, domain.AttemptSession, error) {
	rec, err := s.owned(ctx, attemptID)
	if err != nil {
		return domain.Quiz{}, domain.AttemptSession{}, err
	}
	if rec.Status == domain.AttemptSubmitted {
		return domain.Quiz{}, domain.AttemptSession{}, fmt.Errorf("%w: %s", domain.ErrAlreadySubmitted, attemptID)
	}
	quiz, err := s.quizzes.GetQuiz(ctx, rec.QuizID)
	if err != nil {
		return domain.Quiz{}, domain.AttemptSession{}, err
	}
	return quiz, rec.Session(quiz, s.now()), nil
}

func (s *AttemptStore) SaveDraft(_ context.Context, attemptID string, answers domain.Answers) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.attempts[attemptID]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", domain.ErrAttemptNotFound, attemptID)
	}
	if rec.Status != domain.AttemptInProgress {
		return time.Time{}, fmt.Errorf("%w: %s", domain.ErrAlreadySubmitted, attemptID)
	}
	savedAt := s.now()
	rec.Answers = answers.Clone()
	rec.SavedAt = &savedAt
	s.attempts[attemptID] = rec
	return savedAt, nil
}

func (s *AttemptStore) SubmitAttempt(ctx context.Context, attemptID string, answers domain.Answers) (domain.SubmitResult, error) {
	s.mu.Lock()
	rec, ok := s.attempts[attemptID]
	s.mu.Unlock()
	if !ok {
		return domain.SubmitResult{}, fmt.Errorf("%w: %s", domain.ErrAttemptNotFound, attemptID)
	}
	quiz, err := s.quizzes.GetQuiz(ctx, rec.QuizID)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec = s.attempts[attemptID]
	if rec.Status == domain.AttemptSubmitted {
		return domain.SubmitResult{}, fmt.Errorf("%w: %s", domain.ErrAlreadySubmitted, attemptID)
	}
	now := s.now()
	result := domain.Grade(quiz, answers, now)
	rec.Answers = answers.Clone()
	rec.Status = domain.AttemptSubmitted
	rec.SubmittedAt = &now
	rec.Result = &result
	s.attempts[attemptID] = rec
	return result, nil
}

func (s *AttemptStore) RemainingSeconds(_ context.Context, attemptID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.attempts[attemptID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrAttemptNotFound, attemptID)
	}
	remaining := rec.RemainingSeconds(s.now())
	if remaining == nil {
		return 0, fmt.Errorf("attempt %s is untimed", attemptID)
	}
	return *remaining, nil
}

func (s *AttemptStore) owned(ctx context.Context, attemptID string) (domain.AttemptRecord, error) {
	s.mu.Lock()
	rec, ok := s.attempts[attemptID]
	s.mu.Unlock()
	if !ok {
		return domain.AttemptRecord{}, fmt.Errorf("%w: %s", domain.ErrAttemptNotFound, attemptID)
	}
	if student, ok := domain.StudentFrom(ctx); ok && student != rec.StudentID {
		return domain.AttemptRecord{}, fmt.Errorf("%w: attempt %s", domain.ErrForbidden, attemptID)
	}
	return rec, nil
}
