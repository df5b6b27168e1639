package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as database/sql driver

	"meal-backend/internal/shared/telemetry"
)

// Options sizes the meal database pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

var openDB = sql.Open

// IsLambdaRuntime reports whether the current process is running in AWS Lambda.
func IsLambdaRuntime() bool {
	return strings.TrimSpace(os.Getenv("AWS_LAMBDA_FUNCTION_NAME")) != ""
}

// PoolOptions sizes the pool for the API. A meal save holds a connection briefly at the
// end of an analysis, so the server pool follows the admission limit. A Lambda instance
// serves one request at a time and keeps its idle connection across the analyze budget.
func PoolOptions(lambda bool, maxConcurrent int) Options {
	if lambda {
		return Options{
			MaxOpenConns:    2,
			MaxIdleConns:    1,
			ConnMaxIdleTime: 45 * time.Second,
			ConnMaxLifetime: 15 * time.Minute,
			PingTimeout:     2 * time.Second,
		}
	}
	open := maxConcurrent
	if open < 4 {
		open = 4
	}
	if open > 32 {
		open = 32
	}
	return Options{
		MaxOpenConns:    open,
		MaxIdleConns:    (open + 1) / 2,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnMaxLifetime: time.Hour,
		PingTimeout:     5 * time.Second,
	}
}

// MigrateOptions is a single connection for cmd/migrate.
func MigrateOptions() Options {
	return Options{MaxOpenConns: 1, MaxIdleConns: 1, ConnMaxLifetime: time.Hour, PingTimeout: 10 * time.Second}
}

// WithEnv applies DB_MAX_OPEN_CONNS, DB_MAX_IDLE_CONNS, DB_CONN_MAX_LIFETIME,
// DB_CONN_MAX_IDLE_TIME and DB_PING_TIMEOUT when set.
func (o Options) WithEnv() Options {
	return o.withLookup(os.LookupEnv)
}

func (o Options) withLookup(lookup func(string) (string, bool)) Options {
	ints := map[string]*int{
		"DB_MAX_OPEN_CONNS": &o.MaxOpenConns,
		"DB_MAX_IDLE_CONNS": &o.MaxIdleConns,
	}
	for key, dst := range ints {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || v <= 0 {
			telemetry.Warn("db.env_invalid", map[string]any{"key": key, "value": raw})
			continue
		}
		*dst = v
	}
	durations := map[string]*time.Duration{
		"DB_CONN_MAX_LIFETIME":  &o.ConnMaxLifetime,
		"DB_CONN_MAX_IDLE_TIME": &o.ConnMaxIdleTime,
		"DB_PING_TIMEOUT":       &o.PingTimeout,
	}
	for key, dst := range durations {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil || v <= 0 {
			telemetry.Warn("db.env_invalid", map[string]any{"key": key, "value": raw})
			continue
		}
		*dst = v
	}
	return o
}

// Connect opens a pool for databaseURL and pings it.
func Connect(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	pool, err := openDB("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pool.SetMaxOpenConns(opts.MaxOpenConns)
	pool.SetMaxIdleConns(opts.MaxIdleConns)
	pool.SetConnMaxLifetime(opts.ConnMaxLifetime)
	pool.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	telemetry.Info("db.init", map[string]any{
		"max_open": opts.MaxOpenConns,
		"max_idle": opts.MaxIdleConns,
		"lambda":   IsLambdaRuntime(),
	})
	return pool, nil
}

// sharedPool keeps one pool per Lambda execution environment. A failed connect is not
// cached, so the next invocation tries again.
type sharedPool struct {
	mu sync.Mutex
	db *sql.DB
}

var lambdaPool sharedPool

func (p *sharedPool) get(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db != nil {
		return p.db, nil
	}
	pool, err := Connect(ctx, databaseURL, opts)
	if err != nil {
		return nil, err
	}
	p.db = pool
	return pool, nil
}

func (p *sharedPool) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.db = nil
}

// Open returns the shared pool inside Lambda and a new pool everywhere else.
func Open(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	if IsLambdaRuntime() {
		return lambdaPool.get(ctx, databaseURL, opts)
	}
	return Connect(ctx, databaseURL, opts)
}

// OpenAndMigrate opens the meal database and, when migrate is set, applies the embedded
// schema. Migration failures wrap ErrMigration.
func OpenAndMigrate(ctx context.Context, databaseURL string, opts Options, migrate bool) (*sql.DB, error) {
	pool, err := Open(ctx, databaseURL, opts)
	if err != nil {
		return nil, err
	}
	if !migrate {
		return pool, nil
	}
	if err := RunMigrations(ctx, pool); err != nil {
		if !IsLambdaRuntime() {
			_ = pool.Close()
		}
		return nil, err
	}
	return pool, nil
}

// ErrMigration marks a schema migration failure, as opposed to a connection failure.
var ErrMigration = errors.New("migration failed")
