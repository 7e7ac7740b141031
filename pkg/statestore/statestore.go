// Package statestore keeps short-lived single-use values such as SSO state.
package statestore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"wpmcp/pkg/crypto"
)

// ErrNotFound covers missing, expired and already-consumed keys.
var ErrNotFound = errors.New("statestore: not found")

type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Consume returns the value and deletes it atomically. A second call fails.
	Consume(ctx context.Context, key string) ([]byte, error)
}

// NewState returns a random URL-safe state value.
func NewState() string { return crypto.MustRandomToken(32) }

// Redis relies on GETDEL for atomic single use (Redis >= 6.2).
type Redis struct {
	rdb    *redis.Client
	prefix string
}

func NewRedis(rdb *redis.Client, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.rdb.Set(ctx, r.prefix+key, value, ttl).Err()
}

func (r *Redis) Consume(ctx context.Context, key string) ([]byte, error) {
	b, err := r.rdb.GetDel(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

type entry struct {
	value   []byte
	expires time.Time
}

// Memory is process-local. Expired entries are dropped lazily on access and on Put.
type Memory struct {
	mu   sync.Mutex
	m    map[string]entry
	now  func() time.Time
	puts int
}

func NewMemory() *Memory {
	return &Memory{m: map[string]entry{}, now: time.Now}
}

func (s *Memory) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.puts++
	if s.puts%128 == 0 {
		for k, e := range s.m {
			if now.After(e.expires) {
				delete(s.m, k)
			}
		}
	}
	s.m[key] = entry{value: append([]byte(nil), value...), expires: now.Add(ttl)}
	return nil
}

func (s *Memory) Consume(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.m, key)
	if s.now().After(e.expires) {
		return nil, ErrNotFound
	}
	return e.value, nil
}
