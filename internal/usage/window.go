package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateWindow bounds requests per minute. perMinute <= 0 always allows.
type RateWindow interface {
	Allow(ctx context.Context, tenantID string, perMinute int) (bool, error)
}

// LocalWindow is a per-process token bucket refilled at perMinute/60 per second.
type LocalWindow struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

func NewLocalWindow() *LocalWindow {
	return &LocalWindow{limiters: map[string]*rate.Limiter{}, now: time.Now}
}

func (w *LocalWindow) Allow(_ context.Context, tenantID string, perMinute int) (bool, error) {
	if perMinute <= 0 {
		return true, nil
	}
	limit := rate.Every(time.Minute / time.Duration(perMinute))
	w.mu.Lock()
	l, ok := w.limiters[tenantID]
	if !ok || l.Burst() != perMinute {
		l = rate.NewLimiter(limit, perMinute)
		w.limiters[tenantID] = l
	}
	w.mu.Unlock()
	return l.AllowN(w.now(), 1), nil
}

// RedisWindow is a fixed one-minute window shared by every replica.
type RedisWindow struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisWindow(rdb *redis.Client) *RedisWindow {
	return &RedisWindow{rdb: rdb, now: time.Now}
}

func (w *RedisWindow) Allow(ctx context.Context, tenantID string, perMinute int) (bool, error) {
	if perMinute <= 0 {
		return true, nil
	}
	key := fmt.Sprintf("wpmcp:rl:%s:%d", tenantID, w.now().Unix()/60)
	var incr *redis.IntCmd
	_, err := w.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.Expire(ctx, key, 61*time.Second)
		return nil
	})
	if err != nil {
		return false, err
	}
	return incr.Val() <= int64(perMinute), nil
}
