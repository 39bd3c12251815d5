package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ivyaspire/leadtrack/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store against the Supabase Postgres backing the
// form_sessions table.
type PostgresStore struct {
	pool Pool
	env  string
	log  *zap.Logger
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString, env string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, env: env, log: zap.L()}, nil
}

// NewPostgresWithPool wraps an existing pool; used by tests.
func NewPostgresWithPool(pool Pool, env string, log *zap.Logger) *PostgresStore {
	if log == nil {
		log = zap.L()
	}
	return &PostgresStore{pool: pool, env: env, log: log}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS form_sessions (
	session_id TEXT PRIMARY KEY,
	data       JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_form_sessions_updated_at ON form_sessions(updated_at);

CREATE OR REPLACE FUNCTION upsert_form_session(p_session_id TEXT, p_form_data JSONB)
RETURNS void
LANGUAGE sql
AS $$
	INSERT INTO form_sessions (session_id, data, updated_at)
	VALUES (p_session_id, p_form_data, now())
	ON CONFLICT (session_id) DO UPDATE
	SET data = form_sessions.data || EXCLUDED.data,
	    updated_at = now();
$$;
`

const postgresFallbackUpsert = `
INSERT INTO form_sessions (session_id, data, updated_at)
VALUES ($1, $2::jsonb, now())
ON CONFLICT (session_id) DO UPDATE
SET data = form_sessions.data || EXCLUDED.data,
    updated_at = now()`

// Migrate creates the schema and the upsert function.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// SaveIncremental writes the snapshot through the upsert_form_session RPC,
// falling back to a direct upsert against the same row when the RPC fails.
func (s *PostgresStore) SaveIncremental(ctx context.Context, sessionID string, snap model.FormSnapshot, stage model.FunnelStage) error {
	data, err := json.Marshal(sessionRow(s.env, snap, stage))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal session row")
	}

	_, rpcErr := s.pool.Exec(ctx, `SELECT upsert_form_session($1, $2::jsonb)`, sessionID, data)
	if rpcErr == nil {
		return nil
	}
	s.log.Warn("session rpc upsert failed, trying direct upsert",
		zap.String("session_id", sessionID),
		zap.Error(rpcErr),
	)

	if _, err := s.pool.Exec(ctx, postgresFallbackUpsert, sessionID, data); err != nil {
		return eris.Wrapf(err, "postgres: direct upsert session %s", sessionID)
	}
	return nil
}

// GetSession returns the stored session data, or nil when unknown.
func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (map[string]any, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM form_sessions WHERE session_id = $1`, sessionID).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get session %s", sessionID)
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal session data")
	}
	return data, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
