package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/loremaster/internal/session"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "loremaster:session:"

// RedisStore keeps sessions as JSON records in Redis. Expiry is delegated to
// the key TTL, refreshed on every save.
type RedisStore struct {
	opts   Options
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore connects to the server at url (redis://...).
func NewRedisStore(ctx context.Context, url string, opts Options) (*RedisStore, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: redis url is required", ErrInvalidConfig)
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing redis url: %v", ErrInvalidConfig, err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &RedisStore{opts: opts, client: client, now: time.Now}, nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (*session.State, error) {
	if id == "" {
		return nil, ErrEmptySessionID
	}

	data, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return s.opts.fresh(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding session record %s: %w", id, err)
	}
	return decodeRecord(rec)
}

func (s *RedisStore) Save(ctx context.Context, id string, st *session.State) error {
	rec, err := newRecord(id, st, s.now())
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding session record %s: %w", id, err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+id, data, s.opts.TTL).Err(); err != nil {
		return fmt.Errorf("saving session %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
