package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	"meal-backend/internal/shared/telemetry"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// RunMigrations applies the embedded meal schema migrations. A nil database is a no-op so
// memory-backed deployments can call it unconditionally.
func RunMigrations(ctx context.Context, database *sql.DB) error {
	if database == nil {
		return nil
	}
	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("%w: %w", ErrMigration, err)
	}
	if err := goose.UpContext(ctx, database, "migrations"); err != nil {
		return fmt.Errorf("%w: apply: %w", ErrMigration, err)
	}
	version, err := goose.GetDBVersion(database)
	if err != nil {
		return fmt.Errorf("%w: read version: %w", ErrMigration, err)
	}
	telemetry.Info("db.migrated", map[string]any{"version": version})
	return nil
}
