package attempt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"quiz-attempt-service/internal/clock"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/events"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeStore records calls. When a hold channel is set the call is recorded
// first and then blocks until the channel is closed.
type fakeStore struct {
	mu         sync.Mutex
	saves      []domain.Answers
	submits    []domain.Answers
	saveErrs   []error
	submitErrs []error
	holdSave   chan struct{}
	holdSubmit chan struct{}
	result     domain.SubmitResult
	remaining  *int
}

func (s *fakeStore) LoadAttempt(context.Context, string) (domain.Quiz, domain.AttemptSession, error) {
	return domain.Quiz{}, domain.AttemptSession{}, domain.ErrAttemptNotFound
}

func (s *fakeStore) SaveDraft(_ context.Context, _ string, answers domain.Answers) (time.Time, error) {
	s.mu.Lock()
	s.saves = append(s.saves, answers)
	var err error
	if len(s.saveErrs) > 0 {
		err, s.saveErrs = s.saveErrs[0], s.saveErrs[1:]
	}
	hold := s.holdSave
	s.mu.Unlock()
	if hold != nil {
		<-hold
	}
	return t0, err
}

func (s *fakeStore) SubmitAttempt(_ context.Context, _ string, answers domain.Answers) (domain.SubmitResult, error) {
	s.mu.Lock()
	s.submits = append(s.submits, answers)
	var err error
	if len(s.submitErrs) > 0 {
		err, s.submitErrs = s.submitErrs[0], s.submitErrs[1:]
	}
	hold := s.holdSubmit
	result := s.result
	s.mu.Unlock()
	if hold != nil {
		<-hold
	}
	if err != nil {
		return domain.SubmitResult{}, err
	}
	return result, nil
}

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func (s *fakeStore) submitCalls() []domain.Answers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Answers(nil), s.submits...)
}

// clockStore adds an authoritative clock to fakeStore.
type clockStore struct {
	*fakeStore
	serverRemaining int
	err             error
}

func (s *clockStore) RemainingSeconds(context.Context, string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverRemaining, s.err
}

var errNetwork = errors.New("network unreachable")

func intPtr(v int) *int { return &v }

func fiveQuestionQuiz(minutes *int) domain.Quiz {
	return domain.Quiz{
		ID:               "quiz-1",
		Title:            "Cell biology",
		TimeLimitMinutes: minutes,
		PassingScore:     60,
		Questions: []domain.Question{
			{ID: "q1", Type: domain.QuestionMultipleChoice, Text: "Powerhouse?", Options: []domain.Option{{ID: "a", Text: "Nucleus"}, {ID: "b", Text: "Mitochondria"}, {ID: "c", Text: "Ribosome"}}, CorrectOptionID: "b"},
			{ID: "q2", Type: domain.QuestionShortAnswer, Text: "Describe osmosis"},
			{ID: "q3", Type: domain.QuestionTrueFalse, Text: "Plants have cell walls", CorrectAnswer: true},
			{ID: "q4", Type: domain.QuestionFillInTheBlank, Text: "DNA is a double ___ made of ___", Blanks: []domain.Blank{{ID: "b1", Answer: "helix"}, {ID: "b2", Answer: "nucleotides"}}},
			{ID: "q5", Type: domain.QuestionMultipleChoice, Text: "Smallest unit?", Options: []domain.Option{{ID: "a", Text: "Cell"}, {ID: "b", Text: "Organ"}}, CorrectOptionID: "a"},
		},
	}
}

type harness struct {
	ctrl      *Controller
	store     *fakeStore
	clock     *clock.Manual
	recorder  *events.Recorder
	announced []string
}

func newHarness(t *testing.T, quiz domain.Quiz, store Store, mutate ...func(*domain.AttemptSession)) *harness {
	t.Helper()
	h := &harness{clock: clock.NewManual(t0), recorder: events.NewRecorder()}
	switch s := store.(type) {
	case *fakeStore:
		h.store = s
	case *clockStore:
		h.store = s.fakeStore
	}
	session := domain.NewAttemptSession("attempt-1", quiz, quiz.Questions)
	for _, m := range mutate {
		m(&session)
	}
	h.ctrl = New(quiz, session, store, Options{
		Scheduler: h.clock,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Publisher: h.recorder,
		Announcer: func(_ UrgencyTier, text string) { h.announced = append(h.announced, text) },
	})
	t.Cleanup(func() {
		h.ctrl.Close()
		h.ctrl.Wait()
	})
	return h
}

// settle waits for every request the controller has issued.
func (h *harness) settle() { h.ctrl.Wait() }
