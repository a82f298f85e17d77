// Package sessionstore persists session state between requests.
//
// Every backend stores the same Record: the session id, the encoded
// session.State and the time of the last save. Loading an unknown or expired
// session returns a fresh state rather than an error, so callers never have
// to create sessions explicitly.
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/loremaster/internal/config"
	"github.com/fyrsmithlabs/loremaster/internal/session"
	"go.uber.org/zap"
)

// DefaultSessionID is used when a caller does not name a session.
const DefaultSessionID = "default_session"

var (
	// ErrInvalidConfig indicates the store configuration is unusable.
	ErrInvalidConfig = errors.New("invalid session store config")

	// ErrEmptySessionID is returned for blank session ids.
	ErrEmptySessionID = errors.New("session id is required")
)

// Store loads and saves session state.
type Store interface {
	// Load returns the state for id, or a fresh state if none is stored.
	Load(ctx context.Context, id string) (*session.State, error)

	// Save replaces the stored state for id.
	Save(ctx context.Context, id string, st *session.State) error

	// Delete removes the stored state for id. Deleting an unknown id is not
	// an error.
	Delete(ctx context.Context, id string) error

	Close() error
}

// Record is the persisted form of a session.
type Record struct {
	SessionID    string          `json:"session_id"`
	State        json.RawMessage `json:"state"`
	LastActivity time.Time       `json:"last_activity"`
}

// Options shared by every backend.
type Options struct {
	// MaxHistory sizes the history of freshly created states.
	MaxHistory int

	// TTL expires sessions that have not been saved for this long. Zero
	// keeps sessions forever.
	TTL time.Duration
}

func (o Options) fresh() *session.State {
	return session.New(o.MaxHistory)
}

func (o Options) expired(last, now time.Time) bool {
	return o.TTL > 0 && now.Sub(last) > o.TTL
}

func newRecord(id string, st *session.State, now time.Time) (Record, error) {
	if id == "" {
		return Record{}, ErrEmptySessionID
	}
	data, err := st.Encode()
	if err != nil {
		return Record{}, err
	}
	return Record{SessionID: id, State: data, LastActivity: now}, nil
}

func decodeRecord(rec Record) (*session.State, error) {
	st, err := session.Decode(rec.State)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", rec.SessionID, err)
	}
	return st, nil
}

// New creates the Store selected by cfg.Session.Store:
//   - "memory" (default): in-process, lost on restart
//   - "sqlite": a local database file
//   - "postgres": a shared Postgres database
//   - "redis": a Redis server, expiry handled by Redis
//   - "mongo": a MongoDB collection with a TTL index
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	sc := cfg.Session
	opts := Options{MaxHistory: sc.MaxHistory, TTL: sc.TTL.Duration()}

	var (
		s   Store
		err error
	)
	switch sc.Store {
	case "memory", "":
		s = NewMemoryStore(opts)
	case "sqlite":
		s, err = NewSQLiteStore(ctx, sc.DSN.Value(), opts)
	case "postgres":
		s, err = NewPostgresStore(ctx, sc.DSN.Value(), opts)
	case "redis":
		s, err = NewRedisStore(ctx, sc.RedisURL.Value(), opts)
	case "mongo":
		s, err = NewMongoStore(ctx, sc.MongoURI.Value(), sc.MongoDatabase, opts)
	default:
		return nil, fmt.Errorf("%w: unsupported session store: %s (supported: memory, sqlite, postgres, redis, mongo)",
			ErrInvalidConfig, sc.Store)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s session store: %w", sc.Store, err)
	}

	if logger != nil {
		logger.Info("session store ready", zap.String("store", sc.Store), zap.Duration("ttl", opts.TTL))
	}
	return s, nil
}
