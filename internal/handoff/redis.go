package handoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps payloads as plain keys with an expiry. GETDEL makes
// redemption atomic across server instances.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "handoff"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(id string) string { return s.prefix + ":" + id }

func (s *RedisStore) Create(ctx context.Context, payload []byte, ttl time.Duration) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		id, err := newID()
		if err != nil {
			return "", err
		}
		ok, err := s.rdb.SetNX(ctx, s.key(id), payload, normalizeTTL(ttl)).Result()
		if err != nil {
			return "", fmt.Errorf("handoff create: %w", err)
		}
		if ok {
			return id, nil
		}
	}
	return "", errors.New("handoff create: id space exhausted")
}

func (s *RedisStore) Redeem(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	bs, err := s.rdb.GetDel(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("handoff redeem: %w", err)
	}
	return bs, nil
}
