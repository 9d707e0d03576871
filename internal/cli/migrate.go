package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/domain"
	pgstore "quiz-attempt-service/internal/infra/postgres"
	pgmigrations "quiz-attempt-service/internal/infra/postgres/migrations"
)

// NewMigrateCmd applies database migrations.
func NewMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runMigrationsWithConfig(cmd.Context(), cfg, newLogger(cfg))
		},
	}
}

// NewSeedCmd loads quiz definitions from a JSON file into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <quizzes.json>",
		Short: "Upsert quiz definitions from a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runSeed(cmd.Context(), cfg, newLogger(cfg), args[0])
		},
	}
}

func runMigrationsWithConfig(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)

	if err := migrator.Init(ctx); err != nil {
		return err
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}
	if group.IsZero() {
		logger.Info("no new migrations")
		return nil
	}
	logger.Info("migrations applied", "group", group.String())
	return nil
}

func runSeed(ctx context.Context, cfg config.Config, logger *slog.Logger, path string) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var quizzes []domain.Quiz
	if err := json.Unmarshal(data, &quizzes); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	loader := pgstore.NewQuizLoader(pool)
	for _, quiz := range quizzes {
		if err := loader.SaveQuiz(ctx, quiz); err != nil {
			return fmt.Errorf("seed quiz %s: %w", quiz.ID, err)
		}
		logger.Info("quiz seeded", "quiz_id", quiz.ID, "questions", len(quiz.Questions))
	}
	return nil
}
