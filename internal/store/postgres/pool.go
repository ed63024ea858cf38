// Package postgres wraps the PostGIS connection pool tiles are rendered from.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohammed-shakir/mvt-compose/internal/core/observability"
)

type Option func(*pgxpool.Config)

func WithMaxConns(n int32) Option {
	return func(c *pgxpool.Config) {
		if n > 0 {
			c.MaxConns = n
		}
	}
}

func WithMinConns(n int32) Option {
	return func(c *pgxpool.Config) {
		if n >= 0 {
			c.MinConns = n
		}
	}
}

func WithMaxConnLifetime(d time.Duration) Option {
	return func(c *pgxpool.Config) { c.MaxConnLifetime = d }
}

func WithHealthCheckPeriod(d time.Duration) Option {
	return func(c *pgxpool.Config) { c.HealthCheckPeriod = d }
}

// WithApplicationName tags server-side sessions so tile queries are easy to
// find in pg_stat_activity.
func WithApplicationName(name string) Option {
	return func(c *pgxpool.Config) { c.ConnConfig.RuntimeParams["application_name"] = name }
}

type Pool struct {
	pool *pgxpool.Pool
}

// ParseConfig builds a pool configuration from dsn with the service defaults
// and opts applied.
func ParseConfig(dsn string, opts ...Option) (*pgxpool.Config, error) {
	if dsn == "" {
		return nil, errors.New("database url is required")
	}
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pc.MaxConns = 16
	pc.MinConns = 2
	pc.MaxConnLifetime = 30 * time.Minute
	pc.HealthCheckPeriod = 30 * time.Second
	pc.ConnConfig.RuntimeParams["application_name"] = "mvt-compose"
	for _, f := range opts {
		f(pc)
	}
	return pc, nil
}

func New(ctx context.Context, dsn string, opts ...Option) (*Pool, error) {
	pc, err := ParseConfig(dsn, opts...)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}

	p := &Pool{pool: pool}
	if err := p.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Pool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.pool.Query(ctx, sql, args...)
}

func (p *Pool) Ping(ctx context.Context) error {
	start := time.Now()
	err := p.pool.Ping(ctx)
	observability.ObserveUpstreamLatency("postgis_ping", time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// Ready reports whether the data store answers; it backs /readyz.
func (p *Pool) Ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.Ping(ctx) == nil
}

func (p *Pool) Close() {
	p.pool.Close()
}
