// Package postgres provides a Postgres-backed Repository using pgx. Records
// are stored as JSONB rows keyed by (kind, natural_key) so upserts stay
// idempotent across job re-runs.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zonedesk/ingest/internal/pipeline"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Repository writes extracted records into Postgres.
type Repository struct {
	pool  querier
	table string
}

// New creates a Repository using the provided config.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("repository.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Repository{pool: pool, table: table}, nil
}

// NewWithPool constructs a Repository from an existing pool (primarily for
// testing with pgxmock).
func NewWithPool(pool querier, table string) (*Repository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Repository{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

// Upsert inserts or replaces the record for (kind, naturalKey), returning its
// stable id.
func (r *Repository) Upsert(ctx context.Context, kind, naturalKey string, record pipeline.Record) (string, error) {
	if kind == "" || naturalKey == "" {
		return "", &pipeline.StoreError{Kind: kind, Key: naturalKey, Err: fmt.Errorf("kind and natural key are required")}
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return "", &pipeline.StoreError{Kind: kind, Key: naturalKey, Err: fmt.Errorf("marshal record: %w", err)}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, kind, natural_key, payload, updated_at)
VALUES (gen_random_uuid(), $1, $2, $3, now())
ON CONFLICT (kind, natural_key)
DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()
RETURNING id`, r.table)

	var id string
	if err := r.pool.QueryRow(ctx, query, kind, naturalKey, payload).Scan(&id); err != nil {
		return "", &pipeline.StoreError{Kind: kind, Key: naturalKey, Err: fmt.Errorf("upsert record: %w", err)}
	}
	return id, nil
}

// GetByID returns the record stored under id.
func (r *Repository) GetByID(ctx context.Context, id string) (pipeline.Record, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE id = $1`, r.table)
	var payload []byte
	if err := r.pool.QueryRow(ctx, query, id).Scan(&payload); err != nil {
		return nil, &pipeline.StoreError{Key: id, Err: fmt.Errorf("get record: %w", err)}
	}
	var record pipeline.Record
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, &pipeline.StoreError{Key: id, Err: fmt.Errorf("unmarshal record: %w", err)}
	}
	return record, nil
}

// GetAll returns records matching filter. Only the reserved "kind" filter is
// pushed down; other keys are matched against the decoded payload.
func (r *Repository) GetAll(ctx context.Context, filter map[string]string) ([]pipeline.Record, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s`, r.table)
	args := []any{}
	if kind, ok := filter["kind"]; ok {
		query += ` WHERE kind = $1`
		args = append(args, kind)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &pipeline.StoreError{Err: fmt.Errorf("query records: %w", err)}
	}
	defer rows.Close()

	var out []pipeline.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, &pipeline.StoreError{Err: fmt.Errorf("scan record: %w", err)}
		}
		var record pipeline.Record
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, &pipeline.StoreError{Err: fmt.Errorf("unmarshal record: %w", err)}
		}
		if payloadMatches(record, filter) {
			out = append(out, record)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &pipeline.StoreError{Err: fmt.Errorf("iterate records: %w", err)}
	}
	return out, nil
}

func payloadMatches(record pipeline.Record, filter map[string]string) bool {
	for key, want := range filter {
		if key == "kind" {
			continue
		}
		got, ok := record[key].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}
