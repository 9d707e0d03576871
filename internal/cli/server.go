package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/attempt"
	"quiz-attempt-service/internal/clock"
	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/events"
	"quiz-attempt-service/internal/infra/memory"
	pgstore "quiz-attempt-service/internal/infra/postgres"
	redisstore "quiz-attempt-service/internal/infra/redis"
	transport "quiz-attempt-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the attempt server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		loader = pgstore.NewQuizLoader(pool)
	}

	quizTTL := config.Duration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisstore.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var attempts app.AttemptRepository
	if pool != nil {
		attempts = pgstore.NewAttemptStore(pool, quizRepo)
	} else {
		logger.Warn("postgres not configured, attempts are kept in memory")
		attempts = memory.NewAttemptStore(quizRepo)
	}
	if redisClient != nil {
		attempts = redisstore.NewDraftCache(attempts, redisClient, config.Duration(cfg.Redis.DraftTTL, 24*time.Hour))
	}

	var sessions app.SessionRepository
	if redisClient != nil {
		owner, _ := os.Hostname()
		sessions = redisstore.NewSessionStore(redisClient, config.Duration(cfg.Redis.TTL, 2*time.Hour), owner)
	} else {
		sessions = memory.NewSessionStore()
	}

	publisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if publisher != nil {
		defer publisher.Close()
	}

	service := app.NewAttemptService(sessions, quizRepo, attempts, attempt.Options{
		Scheduler:         clock.Real(),
		Logger:            logger,
		Publisher:         publisher,
		AutosaveDebounce:  config.Duration(cfg.Attempt.AutosaveDebounce, attempt.DefaultAutosaveDebounce),
		AutosaveInterval:  config.Duration(cfg.Attempt.AutosaveInterval, attempt.DefaultAutosaveInterval),
		ClockSyncInterval: config.Duration(cfg.Attempt.ClockSync, attempt.DefaultClockSyncInterval),
		RequestTimeout:    config.Duration(cfg.Attempt.RequestTimeout, attempt.DefaultRequestTimeout),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/attempts", transport.NewAttemptHandler(service, logger).StartAttempt)
	mux.HandleFunc("/ws", transport.NewWSHandler(service, logger).ServeWS)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting attempt service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start server", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = server.Shutdown(shutdownCtx)
	service.Shutdown()
	return err
}

// newPublisher returns nil when events are disabled.
func newPublisher(ctx context.Context, cfg config.Config, logger *slog.Logger) (events.Publisher, error) {
	topic := cfg.Events.Topic
	if topic == "" {
		topic = "quiz.attempts"
	}
	switch cfg.Events.Publisher {
	case "", "none":
		return nil, nil
	case "kafka":
		if len(cfg.Events.Brokers) == 0 {
			return nil, errors.New("events.brokers required for kafka publisher")
		}
		return events.NewKafkaPublisher(cfg.Events.Brokers, topic, logger)
	case "gochannel":
		pubsub := events.NewGoChannelPubSub(logger)
		msgs, err := pubsub.Subscribe(ctx, topic)
		if err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", topic, err)
		}
		go func() {
			for msg := range msgs {
				if event, err := events.Decode(msg); err == nil {
					logger.Debug("attempt event", "event_type", event.Type, "attempt_id", event.AttemptID)
				}
				msg.Ack()
			}
		}()
		return events.NewMessagePublisher(pubsub, topic, logger), nil
	}
	return nil, fmt.Errorf("unknown events publisher %q", cfg.Events.Publisher)
}

// sampleQuizzes backs the service when no database is configured.
func sampleQuizzes() map[string]domain.Quiz {
	limit := 10
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:                      "quiz-1",
			Title:                   "Arithmetic warm-up",
			TimeLimitMinutes:        &limit,
			PassingScore:            60,
			ShowAnswersAfterSubmit:  true,
			FocusLossWarningEnabled: true,
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
				{
					ID:            "q2",
					Type:          domain.QuestionTrueFalse,
					Text:          "Every prime number is odd.",
					CorrectAnswer: false,
					Points:        1,
				},
				{
					ID:     "q3",
					Type:   domain.QuestionFillInTheBlank,
					Text:   "3 x 4 = [b1] and 10 / 2 = [b2]",
					Blanks: []domain.Blank{{ID: "b1", Answer: "12"}, {ID: "b2", Answer: "5"}},
					Points: 2,
				},
				{
					ID:           "q4",
					Type:         domain.QuestionShortAnswer,
					Text:         "Explain why division by zero is undefined.",
					SampleAnswer: "No number multiplied by zero gives a non-zero dividend.",
					Points:       1,
				},
			},
		},
	}
}
