package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists records as JSONB rows. The primary key plus
// ON CONFLICT DO NOTHING gives atomic first-write-wins under concurrent
// writers.
//
// Schema:
//
//	CREATE TABLE runs (
//	  id TEXT PRIMARY KEY,
//	  series TEXT NOT NULL,
//	  fingerprint TEXT NOT NULL,
//	  record JSONB NOT NULL,
//	  started_at TIMESTAMPTZ NOT NULL,
//	  expires_at TIMESTAMPTZ
//	);
//	CREATE INDEX idx_runs_started ON runs(started_at DESC);
//	CREATE INDEX idx_runs_expires ON runs(expires_at);
type PostgresStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewPostgresStore creates the pool and pings before returning.
func NewPostgresStore(connStr string, ttl time.Duration) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("store: postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: postgres ping failed: %w", err)
	}

	return &PostgresStore{pool: pool, ttl: ttl}, nil
}

func (p *PostgresStore) Put(ctx context.Context, rec *RunRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("store: record needs an id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal record: %w", err)
	}

	var expires *time.Time
	if p.ttl > 0 {
		t := time.Now().Add(p.ttl)
		expires = &t
	}

	query := `
		INSERT INTO runs (id, series, fingerprint, record, started_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = p.pool.Exec(ctx, query, rec.ID, rec.Series, rec.Fingerprint, data, rec.StartedAt, expires)
	if err != nil {
		return fmt.Errorf("store: postgres insert failed: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*RunRecord, error) {
	query := `
		SELECT record
		FROM runs
		WHERE id = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`
	var data []byte
	err := p.pool.QueryRow(ctx, query, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: postgres query failed: %w", err)
	}

	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("store: unmarshal record: %w", err)
	}
	return &rec, nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*RunRecord, error) {
	query := `
		SELECT record
		FROM runs
		WHERE expires_at IS NULL OR expires_at > NOW()
		ORDER BY started_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: postgres list failed: %w", err)
	}
	defer rows.Close()

	var out []*RunRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("store: postgres scan failed: %w", err)
		}
		var rec RunRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("store: unmarshal record: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: postgres rows: %w", err)
	}
	return out, nil
}

// CleanupExpired removes expired rows; run it periodically to keep the table
// lean.
func (p *PostgresStore) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := p.pool.Exec(ctx, `DELETE FROM runs WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("store: postgres cleanup failed: %w", err)
	}
	return result.RowsAffected(), nil
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
