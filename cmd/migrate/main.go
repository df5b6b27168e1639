package main

// Run database migrations:
//   go run ./cmd/migrate

import (
	"context"
	"errors"
	"os"

	"meal-backend/internal/shared/config"
	"meal-backend/internal/shared/storage/db"
	"meal-backend/internal/shared/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	defer telemetry.Sync()
	cfg := config.Load()
	ctx := context.Background()

	sqlDB, err := db.OpenAndMigrate(ctx, cfg.DatabaseURL, db.MigrateOptions().WithEnv(), true)
	if err != nil {
		event := "migrate.connect_failed"
		if errors.Is(err, db.ErrMigration) {
			event = "migrate.failed"
		}
		telemetry.Error(event, map[string]any{"error": err})
		return 1
	}
	defer sqlDB.Close()
	return 0
}
