package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"quiz-attempt-service/internal/attempt"
	"quiz-attempt-service/internal/domain"
)

// SessionRepository tracks the live attempt controllers of this process.
type SessionRepository interface {
	// GetOrCreate returns the live controller for attemptID, calling open
	// only when none exists.
	GetOrCreate(attemptID string, open func() (*attempt.Controller, error)) (*attempt.Controller, error)
	// Attach is GetOrCreate plus a subscription taken atomically with
	// respect to DeleteIfIdle.
	Attach(attemptID string, open func() (*attempt.Controller, error)) (*attempt.Controller, <-chan attempt.Update, func(), error)
	Get(attemptID string) (*attempt.Controller, bool)
	// DeleteIfIdle closes and forgets the controller once nobody is
	// subscribed, reporting whether it did.
	DeleteIfIdle(attemptID string) bool
	CloseAll()
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// AttemptRepository persists attempts.
type AttemptRepository interface {
	attempt.Store
	// CreateAttempt fails with domain.ErrAttemptInProgress when the student
	// already has an in-progress attempt for the quiz.
	CreateAttempt(ctx context.Context, record domain.AttemptRecord) error
	// LatestAttempt returns the most recently started attempt of a student
	// for a quiz; ok is false when there is none.
	LatestAttempt(ctx context.Context, quizID, studentID string) (rec domain.AttemptRecord, ok bool, err error)
}

// AttemptService contains the attempt use cases.
type AttemptService struct {
	sessions SessionRepository
	quizzes  QuizRepository
	attempts AttemptRepository
	opts     attempt.Options
	log      *slog.Logger
	now      func() time.Time
	newID    func() string
	starts   singleflight.Group
}

func NewAttemptService(sessions SessionRepository, quizzes QuizRepository, attempts AttemptRepository, opts attempt.Options) *AttemptService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	if opts.Scheduler != nil {
		now = opts.Scheduler.Now
	}
	return &AttemptService{
		sessions: sessions,
		quizzes:  quizzes,
		attempts: attempts,
		opts:     opts,
		log:      logger,
		now:      now,
		newID:    uuid.NewString,
	}
}

// StartAttempt creates an attempt for studentID, or returns the one still in
// progress. A finished attempt blocks a new one unless the quiz allows
// reattempts. Concurrent starts for the same quiz and student share one
// result; across instances the store rejects a second in-progress attempt.
func (s *AttemptService) StartAttempt(ctx context.Context, quizID, studentID string) (domain.AttemptRecord, error) {
	v, err, _ := s.starts.Do(quizID+"/"+studentID, func() (interface{}, error) {
		return s.startAttempt(ctx, quizID, studentID)
	})
	if err != nil {
		return domain.AttemptRecord{}, err
	}
	return v.(domain.AttemptRecord), nil
}

func (s *AttemptService) startAttempt(ctx context.Context, quizID, studentID string) (domain.AttemptRecord, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.AttemptRecord{}, err
	}

	latest, ok, err := s.attempts.LatestAttempt(ctx, quizID, studentID)
	if err != nil {
		return domain.AttemptRecord{}, fmt.Errorf("latest attempt: %w", err)
	}
	if ok {
		if latest.Status == domain.AttemptInProgress {
			return latest, nil
		}
		if !quiz.AllowReattempt {
			return domain.AttemptRecord{}, fmt.Errorf("%w: quiz %s does not allow reattempts", domain.ErrForbidden, quizID)
		}
	}

	id := s.newID()
	order := domain.QuestionIDs(domain.OrderQuestions(quiz, id))
	record := domain.NewAttemptRecord(id, quiz, studentID, order, s.now())
	err = s.attempts.CreateAttempt(ctx, record)
	if errors.Is(err, domain.ErrAttemptInProgress) {
		latest, ok, lerr := s.attempts.LatestAttempt(ctx, quizID, studentID)
		if lerr != nil {
			return domain.AttemptRecord{}, fmt.Errorf("latest attempt: %w", lerr)
		}
		if ok && latest.Status == domain.AttemptInProgress {
			return latest, nil
		}
	}
	if err != nil {
		return domain.AttemptRecord{}, fmt.Errorf("create attempt: %w", err)
	}
	s.log.Info("attempt started", "attempt_id", id, "quiz_id", quizID, "student_id", studentID)
	return record, nil
}

// Open returns the running controller for an attempt, loading and starting
// it on first use. The caller identity in ctx must own the attempt.
func (s *AttemptService) Open(ctx context.Context, attemptID string) (*attempt.Controller, error) {
	ctrl, err := s.sessions.GetOrCreate(attemptID, s.opener(ctx, attemptID))
	if err != nil {
		return nil, err
	}
	if err := s.checkOwner(ctx, ctrl, attemptID); err != nil {
		return nil, err
	}
	return ctrl, nil
}

// Subscribe opens the attempt and attaches a read-model subscriber.
// The caller must invoke the returned cancel function and then Leave.
func (s *AttemptService) Subscribe(ctx context.Context, attemptID string) (*attempt.Controller, <-chan attempt.Update, func(), error) {
	ctrl, updates, cancel, err := s.sessions.Attach(attemptID, s.opener(ctx, attemptID))
	if err != nil {
		return nil, nil, nil, err
	}
	if err := s.checkOwner(ctx, ctrl, attemptID); err != nil {
		cancel()
		s.sessions.DeleteIfIdle(attemptID)
		return nil, nil, nil, err
	}
	return ctrl, updates, cancel, nil
}

func (s *AttemptService) opener(ctx context.Context, attemptID string) func() (*attempt.Controller, error) {
	return func() (*attempt.Controller, error) {
		timeout := s.opts.RequestTimeout
		if timeout <= 0 {
			timeout = attempt.DefaultRequestTimeout
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		ctrl, err := attempt.Open(ctx, s.attempts, attemptID, s.opts)
		if err != nil {
			return nil, err
		}
		ctrl.Start()
		return ctrl, nil
	}
}

func (s *AttemptService) checkOwner(ctx context.Context, ctrl *attempt.Controller, attemptID string) error {
	if student, ok := domain.StudentFrom(ctx); ok {
		if owner := ctrl.Session().StudentID; owner != "" && owner != student {
			return fmt.Errorf("%w: attempt %s", domain.ErrForbidden, attemptID)
		}
	}
	return nil
}

// Leave tears the controller down when its last subscriber has gone.
func (s *AttemptService) Leave(_ context.Context, attemptID string) {
	s.sessions.DeleteIfIdle(attemptID)
}

// Shutdown closes every live controller.
func (s *AttemptService) Shutdown() {
	s.sessions.CloseAll()
}

// IsClientError reports whether err is caused by the request rather than the server.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrAttemptNotFound) ||
		errors.Is(err, domain.ErrQuizNotFound) ||
		errors.Is(err, domain.ErrForbidden) ||
		errors.Is(err, domain.ErrAttemptBusy) ||
		errors.Is(err, domain.ErrQuestionNotFound)
}
