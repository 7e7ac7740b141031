package token

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DenyList holds revoked token ids until they expire.
type DenyList interface {
	Deny(ctx context.Context, jti string, ttl time.Duration) error
	Denied(ctx context.Context, jti string) (bool, error)
}

type RedisDenyList struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisDenyList(rdb *redis.Client) *RedisDenyList {
	return &RedisDenyList{rdb: rdb, prefix: "wpmcp:deny:"}
}

func (d *RedisDenyList) Deny(ctx context.Context, jti string, ttl time.Duration) error {
	return d.rdb.Set(ctx, d.prefix+jti, 1, ttl).Err()
}

func (d *RedisDenyList) Denied(ctx context.Context, jti string) (bool, error) {
	n, err := d.rdb.Exists(ctx, d.prefix+jti).Result()
	return n > 0, err
}

type MemoryDenyList struct {
	mu  sync.Mutex
	m   map[string]time.Time
	now func() time.Time
}

func NewMemoryDenyList() *MemoryDenyList {
	return &MemoryDenyList{m: map[string]time.Time{}, now: time.Now}
}

func (d *MemoryDenyList) Deny(_ context.Context, jti string, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for k, exp := range d.m {
		if now.After(exp) {
			delete(d.m, k)
		}
	}
	d.m[jti] = now.Add(ttl)
	return nil
}

func (d *MemoryDenyList) Denied(_ context.Context, jti string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	exp, ok := d.m[jti]
	return ok && d.now().Before(exp), nil
}
