package sessionstore

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/loremaster/internal/session"
	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps encoded sessions in a go-cache. States are stored
// encoded, so a caller mutating a loaded state never touches the stored copy.
type MemoryStore struct {
	opts  Options
	cache *cache.Cache
	now   func() time.Time
}

// NewMemoryStore creates an in-process store.
func NewMemoryStore(opts Options) *MemoryStore {
	ttl, cleanup := cache.NoExpiration, time.Duration(0)
	if opts.TTL > 0 {
		ttl, cleanup = opts.TTL, opts.TTL*2
	}
	return &MemoryStore{opts: opts, cache: cache.New(ttl, cleanup), now: time.Now}
}

func (s *MemoryStore) Load(_ context.Context, id string) (*session.State, error) {
	if id == "" {
		return nil, ErrEmptySessionID
	}
	v, ok := s.cache.Get(id)
	if !ok {
		return s.opts.fresh(), nil
	}
	return decodeRecord(v.(Record))
}

func (s *MemoryStore) Save(_ context.Context, id string, st *session.State) error {
	rec, err := newRecord(id, st, s.now())
	if err != nil {
		return err
	}
	s.cache.Set(id, rec, cache.DefaultExpiration)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.cache.Delete(id)
	return nil
}

// Count returns the number of live sessions.
func (s *MemoryStore) Count() int {
	return s.cache.ItemCount()
}

func (s *MemoryStore) Close() error {
	s.cache.Flush()
	return nil
}
