// Package migrate wraps goose so schema migrations can run both from the API
// process at boot and from the standalone migrate command.
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Runner applies SQL migrations against the deployment database.
type Runner struct {
	databaseURL string
	dir         string
	logger      *slog.Logger
}

// New constructs a Runner. dir points at the goose migration directory.
func New(databaseURL, dir string, logger *slog.Logger) *Runner {
	return &Runner{databaseURL: databaseURL, dir: dir, logger: logger}
}

// Ensure applies all pending migrations. It is safe to call on every boot.
func (r *Runner) Ensure(ctx context.Context) error {
	return r.withDB(ctx, func(db *sql.DB) error {
		if err := goose.UpContext(ctx, db, r.dir); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		r.logger.Info("migrations applied", "dir", r.dir)
		return nil
	})
}

// Status logs the migration status table.
func (r *Runner) Status(ctx context.Context) error {
	return r.withDB(ctx, func(db *sql.DB) error {
		return goose.StatusContext(ctx, db, r.dir)
	})
}

// Down rolls back the most recent migration.
func (r *Runner) Down(ctx context.Context) error {
	return r.withDB(ctx, func(db *sql.DB) error {
		return goose.DownContext(ctx, db, r.dir)
	})
}

// Ping verifies database connectivity without touching the schema.
func (r *Runner) Ping(ctx context.Context) error {
	return r.withDB(ctx, func(db *sql.DB) error {
		return db.PingContext(ctx)
	})
}

func (r *Runner) withDB(ctx context.Context, fn func(*sql.DB) error) error {
	db, err := sql.Open("pgx", r.databaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	return fn(db)
}
