package sessionstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyrsmithlabs/loremaster/internal/config"
	"github.com/fyrsmithlabs/loremaster/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSQLite(t *testing.T, opts Options) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "sessions.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stores(t *testing.T) map[string]Store {
	opts := Options{MaxHistory: 4}
	return map[string]Store{
		"memory": NewMemoryStore(opts),
		"sqlite": newSQLite(t, opts),
	}
}

func TestStore_MissingSessionIsFresh(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			st, err := s.Load(context.Background(), "nobody")
			require.NoError(t, err)
			assert.Equal(t, session.ModeMainMenu, st.Mode)
			assert.Equal(t, 0, st.TurnIndex)
			assert.Equal(t, 4, st.MaxHistory)
		})
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			st := session.New(4)
			st.SwitchMode(session.ModeDMStory)
			st.ActiveUniverseID = "u1"
			st.TurnIndex = 3
			st.AddToHistory("Player: hello")
			st.AddToHistory("DM: welcome")
			st.AddActiveCharacter("liora")
			require.NoError(t, s.Save(ctx, "s1", st))

			got, err := s.Load(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, session.ModeDMStory, got.Mode)
			assert.Equal(t, "u1", got.ActiveUniverseID)
			assert.Equal(t, 3, got.TurnIndex)
			assert.Equal(t, []string{"Player: hello", "DM: welcome"}, got.RecentHistory)
			assert.Equal(t, []string{"liora"}, got.ActiveCharacterIDs)

			// The stored copy is isolated from the loaded one.
			got.TurnIndex = 99
			again, err := s.Load(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, 3, again.TurnIndex)

			// Saves replace.
			st.TurnIndex = 4
			require.NoError(t, s.Save(ctx, "s1", st))
			again, err = s.Load(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, 4, again.TurnIndex)

			require.NoError(t, s.Delete(ctx, "s1"))
			require.NoError(t, s.Delete(ctx, "s1"))
			fresh, err := s.Load(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, 0, fresh.TurnIndex)
		})
	}
}

func TestStore_EmptyID(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Load(context.Background(), "")
			assert.ErrorIs(t, err, ErrEmptySessionID)
			assert.ErrorIs(t, s.Save(context.Background(), "", session.New(0)), ErrEmptySessionID)
		})
	}
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Options{TTL: 20 * time.Millisecond})

	st := session.New(0)
	st.TurnIndex = 1
	require.NoError(t, s.Save(ctx, "s1", st))
	assert.Equal(t, 1, s.Count())

	time.Sleep(60 * time.Millisecond)
	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.TurnIndex)
}

func TestSQLiteStore_TTL(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t, Options{TTL: time.Hour})

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	st := session.New(0)
	st.TurnIndex = 2
	require.NoError(t, s.Save(ctx, "s1", st))

	now = now.Add(30 * time.Minute)
	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.TurnIndex)

	now = now.Add(2 * time.Hour)
	got, err = s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.TurnIndex)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	s, err := NewSQLiteStore(ctx, path, Options{})
	require.NoError(t, err)
	st := session.New(0)
	st.ActiveCampaignID = "c1"
	require.NoError(t, s.Save(ctx, DefaultSessionID, st))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(ctx, path, Options{})
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Load(ctx, DefaultSessionID)
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ActiveCampaignID)
}

func TestNew(t *testing.T) {
	cfg := config.Default()
	s, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
	require.NoError(t, s.Close())

	cfg.Session.Store = "cassandra"
	_, err = New(context.Background(), cfg, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg.Session.Store = "redis"
	_, err = New(context.Background(), cfg, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
