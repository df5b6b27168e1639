package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meal-backend/internal/bootstrap"
	"meal-backend/internal/shared/config"
	"meal-backend/internal/shared/server"
	"meal-backend/internal/shared/telemetry"
)

const shutdownTimeout = 35 * time.Second

func main() {
	defer telemetry.Sync()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	srv := &http.Server{
		Addr:              server.Addr(cfg.Port),
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		telemetry.Info("server.start", map[string]any{"addr": srv.Addr, "env": cfg.Env})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	case <-ctx.Done():
		// In-flight analyses run up to the analysis deadline; give them that long.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		telemetry.Info("server.shutdown", map[string]any{"in_flight": app.Admission.InFlight()})
		if err := srv.Shutdown(shutdownCtx); err != nil {
			telemetry.Error("server.shutdown_failed", map[string]any{"error": err})
		}
	}
}
