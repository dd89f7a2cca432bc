package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// slogGooseLogger adapts goose's logger interface to slog.
type slogGooseLogger struct{}

func (slogGooseLogger) Fatalf(format string, v ...any) {
	slog.Error(fmt.Sprintf(format, v...), "component", "migrations")
}

func (slogGooseLogger) Printf(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), "component", "migrations")
}

// RunMigrations applies all pending goose migrations embedded in the binary.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetLogger(slogGooseLogger{})
	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}
