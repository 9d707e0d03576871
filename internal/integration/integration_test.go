package integration

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/attempt"
	"quiz-attempt-service/internal/clock"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/events"
	pgstore "quiz-attempt-service/internal/infra/postgres"
	pgmigrations "quiz-attempt-service/internal/infra/postgres/migrations"
	infraredis "quiz-attempt-service/internal/infra/redis"
)

func TestAttemptEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateDB(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := pgstore.NewQuizLoader(pool)
	if err := loader.SaveQuiz(ctx, sampleQuiz()); err != nil {
		t.Fatalf("seed quiz: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	quizRepo := infraredis.NewQuizRepository(redisClient, loader, 5*time.Minute)
	attempts := infraredis.NewDraftCache(pgstore.NewAttemptStore(pool, quizRepo), redisClient, time.Hour)
	sessions := infraredis.NewSessionStore(redisClient, 5*time.Minute, "it-node")
	recorder := events.NewRecorder()
	service := app.NewAttemptService(sessions, quizRepo, attempts, attempt.Options{
		Scheduler: clock.Real(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Publisher: recorder,
	})
	defer service.Shutdown()

	studentCtx := domain.WithStudent(ctx, "s1")
	rec, err := service.StartAttempt(studentCtx, "quiz-1", "s1")
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}

	ctrl, err := service.Open(studentCtx, rec.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if holder, ok, _ := sessions.Holder(ctx, rec.ID); !ok || holder != "it-node" {
		t.Fatalf("expected session ownership recorded in redis, got %q %v", holder, ok)
	}
	if err := ctrl.SetAnswer("q1", domain.MultipleChoiceAnswer{SelectedOptionID: "o2"}); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	ctrl.ForceSave()
	ctrl.Wait()

	draftKey := "attempt:" + rec.ID + ":draft"
	if n, _ := redisClient.Exists(ctx, draftKey).Result(); n != 1 {
		t.Fatalf("expected draft in redis")
	}

	// Tear the controller down and resume from storage.
	service.Leave(studentCtx, rec.ID)
	resumed, err := service.Open(studentCtx, rec.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed == ctrl {
		t.Fatalf("expected a fresh controller after leave")
	}
	if _, ok := resumed.Session().Answers["q1"]; !ok {
		t.Fatalf("expected draft answer restored on resume")
	}

	if _, err := resumed.OpenConfirmDialog(); err != nil {
		t.Fatalf("open confirm: %v", err)
	}
	resumed.ConfirmSubmit()
	resumed.Wait()

	view := resumed.View()
	if view.Submission.Result == nil || view.Submission.Result.Score != 1 {
		t.Fatalf("expected graded result, got %+v", view.Submission)
	}

	var status string
	if err := pool.QueryRow(ctx, `SELECT status FROM attempts WHERE id = $1`, rec.ID).Scan(&status); err != nil {
		t.Fatalf("query attempt: %v", err)
	}
	if status != string(domain.AttemptSubmitted) {
		t.Fatalf("expected submitted status, got %s", status)
	}
	if n, _ := redisClient.Exists(ctx, draftKey).Result(); n != 0 {
		t.Fatalf("expected draft cleared after submit")
	}
	if len(recorder.OfType(events.AttemptSubmitted)) != 1 {
		t.Fatalf("expected one submitted event, got %v", recorder.Events())
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func migrateDB(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func sampleQuiz() domain.Quiz {
	limit := 20
	return domain.Quiz{
		ID:               "quiz-1",
		Title:            "Arithmetic",
		TimeLimitMinutes: &limit,
		PassingScore:     50,
		Questions: []domain.Question{
			{
				ID:   "q1",
				Type: domain.QuestionMultipleChoice,
				Text: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3"},
					{ID: "o2", Text: "4"},
					{ID: "o3", Text: "5"},
				},
				CorrectOptionID: "o2",
				Points:          1,
			},
			{ID: "q2", Type: domain.QuestionShortAnswer, Text: "Why?"},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
