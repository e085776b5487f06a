// Package dbpool provides the bounded, thread-safe connection pool for
// the relational store (spec component C2, DB side). It wraps
// pgxpool.Pool with the spec's (min, max, acquireTimeout) contract and
// an RAII-style acquisition token whose release is guaranteed on every
// exit path, generalizing the gorp.DbMap-over-database/sql pooling
// Boulder's sa.NewDbMap set up.
package dbpool

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/iland112/pkd-ingest/pkdmetrics"
)

// Config describes how to size and reach the pool. Password is never
// read from Config directly; it is always sourced from the
// environment variable named by PasswordEnv, and startup refuses to
// proceed if that variable is unset (spec section 4.2).
type Config struct {
	Host          string
	Port          int
	Database      string
	User          string
	PasswordEnv   string
	MinConns      int32
	MaxConns      int32
	AcquireTimeout time.Duration
	SSLMode       string
}

// Pool is the bounded connection pool handle.
type Pool struct {
	pgx *pgxpool.Pool
	cfg Config
	log *zap.Logger
}

// Handle is the RAII token returned by Acquire. Callers must call
// Release exactly once; it is safe to call from a deferred statement
// on every exit path, including error returns.
type Handle struct {
	conn *pgxpool.Conn
}

// Conn exposes the underlying pgx connection for the query executor.
func (h *Handle) Conn() *pgxpool.Conn {
	return h.conn
}

// Release returns the connection to the pool. Calling Release more
// than once or on a nil Handle is a no-op.
func (h *Handle) Release() {
	if h == nil || h.conn == nil {
		return
	}
	h.conn.Release()
	h.conn = nil
}

// New opens the pool. It fails fast if the password environment
// variable is unset, matching the spec's startup-refusal contract.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Pool, error) {
	password, ok := os.LookupEnv(cfg.PasswordEnv)
	if !ok || password == "" {
		return nil, fmt.Errorf("dbpool: required secret %s is unset", cfg.PasswordEnv)
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, password, cfg.Host, cfg.Port, cfg.Database, defaultString(cfg.SSLMode, "disable"))

	pgxCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("dbpool: parsing DSN: %w", err)
	}
	if cfg.MinConns > 0 {
		pgxCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		pgxCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, fmt.Errorf("dbpool: connecting: %w", err)
	}

	log.Info("database pool starting", zap.String("host", cfg.Host), zap.String("database", cfg.Database))

	return &Pool{pgx: pool, cfg: cfg, log: log}, nil
}

// Acquire blocks until a connection is available or cfg.AcquireTimeout
// elapses, whichever comes first.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	defer pkdmetrics.ObservePoolAcquire("db", time.Now())

	timeout := p.cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := p.pgx.Acquire(acquireCtx)
	if err != nil {
		return nil, fmt.Errorf("dbpool: acquire timed out after %s: %w", timeout, err)
	}
	return &Handle{conn: conn}, nil
}

// Close shuts down the pool. Safe to call once during process
// shutdown.
func (p *Pool) Close() {
	p.pgx.Close()
}

// Stat exposes pool occupancy for metrics/health probes.
func (p *Pool) Stat() *pgxpool.Stat {
	return p.pgx.Stat()
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
