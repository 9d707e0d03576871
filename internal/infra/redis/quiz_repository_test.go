package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
)

func TestQuizRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)

	loader := &countingLoader{
		QuizLoader: memory.NewStaticQuizLoader(map[string]domain.Quiz{
			"quiz-1": sampleQuiz(),
		}),
	}
	repo := NewQuizRepository(client, loader, time.Minute)

	quiz, err := repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls.Load())
	}
	if !mr.Exists("quiz:quiz-1") {
		t.Fatalf("expected quiz cached under quiz:quiz-1")
	}
	if ttl := mr.TTL("quiz:quiz-1"); ttl < time.Minute || ttl > 66*time.Second {
		t.Fatalf("expected ttl with at most 10%% jitter, got %v", ttl)
	}

	// Second call should hit cache, loader not incremented.
	cached, _ := repo.GetQuiz(context.Background(), "quiz-1")
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls.Load())
	}
	if cached.Questions[0].CorrectOptionID != quiz.Questions[0].CorrectOptionID || cached.Questions[0].Text != "What is 2 + 2?" {
		t.Fatalf("cached quiz lost content: %+v", cached.Questions[0])
	}

	if err := repo.Invalidate(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	_, _ = repo.GetQuiz(context.Background(), "quiz-1")
	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after invalidate, loader calls=%d", loader.calls.Load())
	}
}

func TestQuizRepositoryPropagatesMiss(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	repo := NewQuizRepository(newClient(mr), memory.NewStaticQuizLoader(nil), time.Minute)
	if _, err := repo.GetQuiz(context.Background(), "nope"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
}

type countingLoader struct {
	memory.QuizLoader
	calls atomic.Int32
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.calls.Add(1)
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}

func sampleQuiz() domain.Quiz {
	limit := 15
	return domain.Quiz{
		ID:               "quiz-1",
		Title:            "Arithmetic",
		TimeLimitMinutes: &limit,
		Questions: []domain.Question{
			{
				ID:   "q1",
				Type: domain.QuestionMultipleChoice,
				Text: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3"},
					{ID: "o2", Text: "4"},
				},
				CorrectOptionID: "o2",
				Points:          1,
			},
			{
				ID:     "q2",
				Type:   domain.QuestionFillInTheBlank,
				Text:   "3 + 3 = ___",
				Blanks: []domain.Blank{{ID: "b1", Answer: "6"}},
			},
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
