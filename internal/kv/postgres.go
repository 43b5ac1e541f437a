package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists identity keys to a Postgres table, allowing multiple
// API replicas to share anonymous identities.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a Postgres-backed store using the provided DSN and
// ensures the backing table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres kv dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres kv config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres kv pool: %w", err)
	}
	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS identity_keys (
    principal TEXT PRIMARY KEY,
    jwk TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)
`)
	if err != nil {
		return fmt.Errorf("create identity_keys table: %w", err)
	}
	return nil
}

// Read fetches the value stored under key.
func (s *PostgresStore) Read(ctx context.Context, key string) (string, bool, error) {
	if s.pool == nil {
		return "", false, fmt.Errorf("postgres kv pool not configured")
	}
	row := s.pool.QueryRow(ctx, `SELECT jwk FROM identity_keys WHERE principal = $1`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("postgres read %s: %w", key, err)
	}
	return value, true, nil
}

// Write stores or replaces the value under key.
func (s *PostgresStore) Write(ctx context.Context, key, value string) error {
	if s.pool == nil {
		return fmt.Errorf("postgres kv pool not configured")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO identity_keys (principal, jwk)
VALUES ($1, $2)
ON CONFLICT (principal) DO UPDATE SET jwk = EXCLUDED.jwk
`, key, value)
	if err != nil {
		return fmt.Errorf("postgres write %s: %w", key, err)
	}
	return nil
}

// Ping verifies the Postgres pool is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres kv pool not configured")
	}
	return s.pool.Ping(ctx)
}

// Close releases the Postgres connection pool resources.
func (s *PostgresStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
