package db

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdemStore answers "has this key been claimed before" with a TTL. It backs
// message-send deduplication: a retried send with the same client message id
// must insert exactly once. Release frees a claim whose guarded write never
// landed, so the client's retry is not mistaken for a duplicate.
type IdemStore interface {
	PutNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type redisIdem struct {
	r *redis.Client
}

func NewRedisIdem(addr string) IdemStore {
	return &redisIdem{r: redis.NewClient(&redis.Options{Addr: addr})}
}

func (s *redisIdem) PutNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.r.SetNX(ctx, "idem:"+key, "1", ttl).Result()
}

func (s *redisIdem) Release(ctx context.Context, key string) error {
	return s.r.Del(ctx, "idem:"+key).Err()
}

// memIdem is the in-process twin for tests and DEV_MODE. Entries are never
// expired; the dedupe window in dev is effectively unbounded.
type memIdem struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewMemIdem() IdemStore {
	return &memIdem{seen: make(map[string]bool)}
}

func (s *memIdem) PutNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

func (s *memIdem) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, key)
	return nil
}
