package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/subdivisync/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultHealthCheckTimeout = 2 * time.Second

// DB owns the process-wide connection pool. It is created once in main and
// handed to repositories; nothing reaches it through package state.
type DB struct {
	Pool          *pgxpool.Pool
	logger        *slog.Logger
	healthTimeout time.Duration
}

// NewConnection opens the pool described by cfg and waits for a successful
// ping, bounded by cfg.ConnectTimeout.
func NewConnection(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	poolConfig, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database %s on %s:%d: %w", cfg.Name, cfg.Host, cfg.Port, err)
	}

	logger.Info("database pool ready",
		slog.String("database", cfg.Name),
		slog.String("application_name", cfg.ApplicationName),
		slog.Int("max_conns", int(poolConfig.MaxConns)),
		slog.Int("min_conns", int(poolConfig.MinConns)),
	)

	db := NewFromPool(pool, logger)
	if cfg.HealthCheckTimeout > 0 {
		db.healthTimeout = cfg.HealthCheckTimeout
	}
	return db, nil
}

// NewFromPool wraps an existing pool (tests, tools that build their own pool).
func NewFromPool(pool *pgxpool.Pool, logger *slog.Logger) *DB {
	return &DB{Pool: pool, logger: logger, healthTimeout: defaultHealthCheckTimeout}
}

// Close releases every pooled connection
func (db *DB) Close() {
	db.logger.Info("closing database pool")
	db.Pool.Close()
}

// HealthCheck pings the pool for the /health probe
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, db.healthTimeout)
	defer cancel()

	if err := db.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
