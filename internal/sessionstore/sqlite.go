package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/loremaster/internal/session"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id    TEXT PRIMARY KEY,
	state         TEXT NOT NULL,
	last_activity INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions (last_activity);
`

// SQLiteStore persists sessions in a local SQLite file.
type SQLiteStore struct {
	opts Options
	db   *sql.DB
	now  func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(ctx context.Context, path string, opts Options) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", ErrInvalidConfig)
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating sqlite db: %w", err)
	}

	return &SQLiteStore{opts: opts, db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*session.State, error) {
	if id == "" {
		return nil, ErrEmptySessionID
	}

	var (
		state string
		last  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT state, last_activity FROM sessions WHERE session_id = ?`, id,
	).Scan(&state, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return s.opts.fresh(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	if s.opts.expired(time.Unix(0, last), s.now()) {
		if err := s.Delete(ctx, id); err != nil {
			return nil, err
		}
		return s.opts.fresh(), nil
	}
	return decodeRecord(Record{SessionID: id, State: []byte(state)})
}

func (s *SQLiteStore) Save(ctx context.Context, id string, st *session.State) error {
	rec, err := newRecord(id, st, s.now())
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, state, last_activity) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET state = excluded.state, last_activity = excluded.last_activity`,
		rec.SessionID, string(rec.State), rec.LastActivity.UnixNano())
	if err != nil {
		return fmt.Errorf("saving session %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
