package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/config"
	"github.com/ekaya-inc/edp-engine/pkg/retry"
)

// applicationName tags job store sessions in pg_stat_activity.
const applicationName = "edp-engine"

// DB is the PostgreSQL pool behind the job store.
type DB struct {
	*pgxpool.Pool
}

// PoolOptions tunes the pool beyond what the config file exposes.
type PoolOptions struct {
	MaxConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	// Connect retries the startup ping while the server is still coming up.
	Connect *retry.Config
}

func (o *PoolOptions) withDefaults() PoolOptions {
	out := PoolOptions{}
	if o != nil {
		out = *o
	}
	if out.MaxConnections <= 0 {
		out.MaxConnections = 10
	}
	if out.MaxConnLifetime <= 0 {
		out.MaxConnLifetime = time.Hour
	}
	if out.MaxConnIdleTime <= 0 {
		out.MaxConnIdleTime = 30 * time.Minute
	}
	if out.Connect == nil {
		out.Connect = &retry.Config{
			MaxRetries:   5,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		}
	}
	return out
}

// OpenPostgres connects to the job store database described by cfg.
func OpenPostgres(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	return OpenPostgresURL(ctx, cfg.URL(), &PoolOptions{MaxConnections: cfg.MaxConnections}, logger)
}

// OpenPostgresURL connects using a connection URL. The pool is only returned
// once a ping succeeds; refused connections are retried per opts.Connect.
func OpenPostgresURL(ctx context.Context, url string, opts *PoolOptions, logger *zap.Logger) (*DB, error) {
	o := opts.withDefaults()

	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	poolConfig.MaxConns = o.MaxConnections
	poolConfig.MaxConnLifetime = o.MaxConnLifetime
	poolConfig.MaxConnIdleTime = o.MaxConnIdleTime
	if _, ok := poolConfig.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	err = retry.Do(ctx, o.Connect, pool.Ping, func(attempt int, delay time.Duration, err error) {
		logger.Warn("Database not reachable yet",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err))
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Migrate applies the embedded migrations over a separate database/sql
// connection built from the pool's connection config.
func (db *DB) Migrate(logger *zap.Logger) error {
	return RunMigrations(stdlib.OpenDB(*db.Config().ConnConfig), logger)
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
