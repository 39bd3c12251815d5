package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/ivyaspire/leadtrack/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the local
// development driver; there is no RPC here, only the direct upsert.
type SQLiteStore struct {
	db  *sql.DB
	env string
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode.
func NewSQLite(dsn, env string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, env: env}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS form_sessions (
	session_id TEXT PRIMARY KEY,
	data       TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_form_sessions_updated_at ON form_sessions(updated_at);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// SaveIncremental merges the snapshot's fields into the session row.
func (s *SQLiteStore) SaveIncremental(ctx context.Context, sessionID string, snap model.FormSnapshot, stage model.FunnelStage) error {
	data, err := json.Marshal(sessionRow(s.env, snap, stage))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal session row")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO form_sessions (session_id, data, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT (session_id) DO UPDATE
		SET data = json_patch(form_sessions.data, excluded.data),
		    updated_at = datetime('now')`,
		sessionID, string(data),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert session %s", sessionID)
	}
	return nil
}

// GetSession returns the stored session data, or nil when unknown.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (map[string]any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM form_sessions WHERE session_id = ?`, sessionID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get session %s", sessionID)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal session data")
	}
	return data, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
