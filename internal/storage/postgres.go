package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cwfork/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS remote_cache (
	endpoint TEXT   NOT NULL,
	height   BIGINT NOT NULL,
	kind     TEXT   NOT NULL,
	key      TEXT   NOT NULL,
	value    BYTEA  NOT NULL,
	PRIMARY KEY (endpoint, height, kind, key)
);

CREATE TABLE IF NOT EXISTS simulations (
	session_id TEXT        NOT NULL,
	seq        BIGINT      NOT NULL,
	kind       TEXT        NOT NULL,
	target     TEXT        NOT NULL,
	height     BIGINT      NOT NULL,
	error      TEXT        NOT NULL DEFAULT '',
	error_kind TEXT        NOT NULL DEFAULT '',
	events     JSONB       NOT NULL,
	stdout     TEXT        NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, seq)
);
`

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository and ensures its schema
func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	slog.Info("Postgres repository ready")
	return &PostgresRepository{
		pool: pool,
	}, nil
}

// LoadRemote returns a cached remote answer
func (r *PostgresRepository) LoadRemote(ctx context.Context, key CacheKey) ([]byte, bool, error) {
	query := `
		SELECT value FROM remote_cache
		WHERE endpoint = $1 AND height = $2 AND kind = $3 AND key = $4
	`

	var value []byte
	err := r.pool.QueryRow(ctx, query, key.Endpoint, int64(key.Height), key.Kind, key.Key).Scan(&value)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load remote cache entry: %w", err)
	}
	return value, true, nil
}

// SaveRemote stores a remote answer; existing entries are left untouched
func (r *PostgresRepository) SaveRemote(ctx context.Context, key CacheKey, value []byte) error {
	query := `
		INSERT INTO remote_cache (endpoint, height, kind, key, value)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (endpoint, height, kind, key) DO NOTHING
	`

	if _, err := r.pool.Exec(ctx, query, key.Endpoint, int64(key.Height), key.Kind, key.Key, value); err != nil {
		return fmt.Errorf("failed to save remote cache entry: %w", err)
	}
	return nil
}

// SaveSimulation archives one top-level call result
func (r *PostgresRepository) SaveSimulation(ctx context.Context, record *models.SimulationRecord) error {
	eventsJSON, err := json.Marshal(record.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	query := `
		INSERT INTO simulations (
			session_id, seq, kind, target, height,
			error, error_kind, events, stdout, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id, seq) DO NOTHING
	`

	_, err = r.pool.Exec(ctx, query,
		record.SessionID,
		int64(record.Seq),
		record.Kind,
		record.Target,
		int64(record.Height),
		record.Error,
		record.ErrorKind,
		eventsJSON,
		record.Stdout,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save simulation: %w", err)
	}
	return nil
}

// ListSimulations lists archived calls of a session in execution order
func (r *PostgresRepository) ListSimulations(ctx context.Context, sessionID string, limit, offset int) ([]*models.SimulationRecord, error) {
	query := `
		SELECT
			session_id, seq, kind, target, height,
			error, error_kind, events, stdout, created_at
		FROM simulations
		WHERE session_id = $1
		ORDER BY seq ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list simulations: %w", err)
	}
	defer rows.Close()

	var records []*models.SimulationRecord
	for rows.Next() {
		var rec models.SimulationRecord
		var seq, height int64
		var eventsJSON []byte
		if err := rows.Scan(
			&rec.SessionID,
			&seq,
			&rec.Kind,
			&rec.Target,
			&height,
			&rec.Error,
			&rec.ErrorKind,
			&eventsJSON,
			&rec.Stdout,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan simulation: %w", err)
		}
		rec.Seq = uint64(seq)
		rec.Height = uint64(height)
		if err := json.Unmarshal(eventsJSON, &rec.Events); err != nil {
			return nil, fmt.Errorf("failed to unmarshal events: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate simulations: %w", err)
	}

	return records, nil
}

// CountSimulations counts archived calls of a session
func (r *PostgresRepository) CountSimulations(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM simulations WHERE session_id = $1`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count simulations: %w", err)
	}
	return count, nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
