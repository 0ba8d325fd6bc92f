package migration

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/jackc/pgx/v4/pgxpool"
)

// Migration is one idempotent schema step.
type Migration struct {
	Name string
	Up   func(ctx context.Context) error
}

// RunMigrations creates the postgres tables for jobs and the ledger.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	exec := func(query string) func(context.Context) error {
		return func(ctx context.Context) error {
			_, err := pool.Exec(ctx, query)
			return err
		}
	}
	return run(ctx, "postgres", []Migration{
		{Name: "create_refinement_jobs", Up: exec(`
			CREATE TABLE IF NOT EXISTS refinement_jobs (
				id TEXT PRIMARY KEY,
				status TEXT NOT NULL,
				owner_key TEXT NOT NULL DEFAULT '',
				version BIGINT NOT NULL,
				payload JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`)},
		{Name: "index_refinement_jobs_status", Up: exec(`CREATE INDEX IF NOT EXISTS refinement_jobs_status_idx ON refinement_jobs (status, updated_at)`)},
		{Name: "create_user_credits", Up: exec(`
			CREATE TABLE IF NOT EXISTS user_credits (
				owner_key TEXT PRIMARY KEY,
				credits INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`)},
		{Name: "create_credit_transactions", Up: exec(`
			CREATE TABLE IF NOT EXISTS credit_transactions (
				id BIGSERIAL PRIMARY KEY,
				owner_key TEXT NOT NULL,
				amount INTEGER NOT NULL,
				reason TEXT NOT NULL,
				reference TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`)},
		{Name: "create_processed_webhooks", Up: exec(`
			CREATE TABLE IF NOT EXISTS processed_webhooks (
				event_key TEXT PRIMARY KEY,
				processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`)},
		{Name: "create_free_pass_users", Up: exec(`
			CREATE TABLE IF NOT EXISTS free_pass_users (
				email TEXT PRIMARY KEY,
				owner_key TEXT UNIQUE,
				first_name TEXT NOT NULL,
				last_name TEXT NOT NULL,
				job_id TEXT NOT NULL,
				claimed_at TIMESTAMPTZ NOT NULL
			)`)},
	})
}

// RunSQLiteMigrations creates the ledger tables in a sqlite database.
func RunSQLiteMigrations(ctx context.Context, db *sql.DB) error {
	exec := func(query string) func(context.Context) error {
		return func(ctx context.Context) error {
			_, err := db.ExecContext(ctx, query)
			return err
		}
	}
	return run(ctx, "sqlite", []Migration{
		{Name: "create_user_credits", Up: exec(`
			CREATE TABLE IF NOT EXISTS user_credits (
				owner_key TEXT PRIMARY KEY,
				credits INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
				updated_at DATETIME NOT NULL
			)`)},
		{Name: "create_credit_transactions", Up: exec(`
			CREATE TABLE IF NOT EXISTS credit_transactions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				owner_key TEXT NOT NULL,
				amount INTEGER NOT NULL,
				reason TEXT NOT NULL,
				reference TEXT,
				created_at DATETIME NOT NULL
			)`)},
		{Name: "create_processed_webhooks", Up: exec(`
			CREATE TABLE IF NOT EXISTS processed_webhooks (
				event_key TEXT PRIMARY KEY,
				processed_at DATETIME NOT NULL
			)`)},
		{Name: "create_free_pass_users", Up: exec(`
			CREATE TABLE IF NOT EXISTS free_pass_users (
				email TEXT PRIMARY KEY,
				owner_key TEXT UNIQUE,
				first_name TEXT NOT NULL,
				last_name TEXT NOT NULL,
				job_id TEXT NOT NULL,
				claimed_at DATETIME NOT NULL
			)`)},
	})
}

func run(ctx context.Context, driver string, migrations []Migration) error {
	slog.Info("Starting database migrations", "driver", driver)
	for _, m := range migrations {
		if err := m.Up(ctx); err != nil {
			slog.Error("Migration failed", "driver", driver, "name", m.Name, "error", err)
			return err
		}
		slog.Info("Migration completed", "driver", driver, "name", m.Name)
	}
	slog.Info("All migrations completed successfully", "driver", driver)
	return nil
}
