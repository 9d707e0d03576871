package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// Migrations holds the schema steps applied by the migrate command and on start.
var Migrations = migrate.NewMigrations()

//go:embed 0001_create_quizzes.sql
var createQuizzesSQL string

func init() {
	Migrations.MustRegister(execSQL(createQuizzesSQL), execSQL(`DROP TABLE IF EXISTS quizzes`))
}

// execSQL runs a static statement block as one migration step.
func execSQL(query string) migrate.MigrationFunc {
	return func(ctx context.Context, db *bun.DB) error {
		_, err := db.ExecContext(ctx, query)
		return err
	}
}
