// Package database provides the PostgreSQL client and migration runner.
//
// The database is opt-in: checkpoints and RAG index tracking use it when
// configured, and fall back to in-memory stores when not. Stores depend on
// the Querier interface rather than the pool so tests can substitute
// pgxmock.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/viacanvas/intelligence/pkg/config"
)

// Querier is the query surface stores depend on. *pgxpool.Pool satisfies
// it; pgxmock stands in for tests.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client wraps a pgx connection pool with migrations applied.
type Client struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewClient connects to PostgreSQL, applies pending migrations and returns
// a pooled client. Migrations run on a short-lived database/sql connection
// because the migrate driver requires one; application queries go through
// the pgx pool.
func NewClient(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*Client, error) {
	dsn := buildDSN(cfg)

	if err := runMigrations(dsn, cfg.Database); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns) // closest pgxpool analogue
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("database connected",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database)

	return &Client{pool: pool, logger: logger.With("component", "database")}, nil
}

// Pool returns the underlying connection pool for stores.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Close releases all pool connections.
func (c *Client) Close() {
	c.pool.Close()
}

// HealthStatus reports connectivity and pool statistics.
type HealthStatus struct {
	Status         string `json:"status"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	AcquiredConns  int32  `json:"acquired_conns"`
	IdleConns      int32  `json:"idle_conns"`
	TotalConns     int32  `json:"total_conns"`
	MaxConns       int32  `json:"max_conns"`
}

// Health pings the database and returns pool statistics.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()
	if err := c.pool.Ping(ctx); err != nil {
		return &HealthStatus{
			Status:         "unhealthy",
			ResponseTimeMS: time.Since(start).Milliseconds(),
		}, err
	}

	stat := c.pool.Stat()
	return &HealthStatus{
		Status:         "healthy",
		ResponseTimeMS: time.Since(start).Milliseconds(),
		AcquiredConns:  stat.AcquiredConns(),
		IdleConns:      stat.IdleConns(),
		TotalConns:     stat.TotalConns(),
		MaxConns:       stat.MaxConns(),
	}, nil
}

func buildDSN(cfg *config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
}
