package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS turns (
	session_id TEXT    NOT NULL REFERENCES sessions(id),
	seq        INTEGER NOT NULL,
	role       TEXT    NOT NULL,
	content    TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (session_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at DESC);
`

// SQLiteHistory is a HistoryStore in a local SQLite file
type SQLiteHistory struct {
	db *sql.DB
}

// NewSQLiteHistory opens (or creates) the database at path
func NewSQLiteHistory(ctx context.Context, path string) (*SQLiteHistory, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open history database", goerr.V("path", path))
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, goerr.Wrap(err, "failed to apply pragma", goerr.V("pragma", p))
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to migrate history database", goerr.V("path", path))
	}

	return &SQLiteHistory{db: db}, nil
}

func (s *SQLiteHistory) Close() error {
	return s.db.Close()
}

func (s *SQLiteHistory) Append(ctx context.Context, sessionID model.SessionID, turns ...*model.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixNano()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, updated_at) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		string(sessionID), now); err != nil {
		return goerr.Wrap(err, "failed to upsert session", goerr.V("session_id", sessionID))
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM turns WHERE session_id = ?`, string(sessionID)).Scan(&seq); err != nil {
		return goerr.Wrap(err, "failed to read turn sequence", goerr.V("session_id", sessionID))
	}

	for _, t := range turns {
		seq++
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (session_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			string(sessionID), seq, string(t.Role), t.Content, t.CreatedAt.UnixNano()); err != nil {
			return goerr.Wrap(err, "failed to insert turn", goerr.V("session_id", sessionID))
		}
	}

	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit turns", goerr.V("session_id", sessionID))
	}
	return nil
}

func (s *SQLiteHistory) List(ctx context.Context, sessionID model.SessionID) ([]*model.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM turns WHERE session_id = ? ORDER BY seq`, string(sessionID))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query turns", goerr.V("session_id", sessionID))
	}
	defer func() { _ = rows.Close() }()

	turns := []*model.Turn{}
	for rows.Next() {
		var (
			role    string
			content string
			created int64
		)
		if err := rows.Scan(&role, &content, &created); err != nil {
			return nil, goerr.Wrap(err, "failed to scan turn")
		}
		turns = append(turns, &model.Turn{
			Role:      model.Role(role),
			Content:   content,
			CreatedAt: time.Unix(0, created),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate turns")
	}
	return turns, nil
}

func (s *SQLiteHistory) ListSessions(ctx context.Context) ([]model.SessionID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query sessions")
	}
	defer func() { _ = rows.Close() }()

	var ids []model.SessionID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, goerr.Wrap(err, "failed to scan session")
		}
		ids = append(ids, model.SessionID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate sessions")
	}
	return ids, nil
}
