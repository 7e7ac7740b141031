package db

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"wpmcp/pkg/config"
)

// MustConnect returns nil when DATABASE_URL is unset; callers fall back to memory stores.
func MustConnect(cfg config.Config, log *zap.SugaredLogger) *pgxpool.Pool {
	if cfg.DatabaseURL == "" {
		return nil
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalw("pg parse", "err", err, "dsn", redactDSN(cfg.DatabaseURL))
	}
	pcfg.MaxConnIdleTime = 5 * time.Minute
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		log.Fatalw("pg connect", "err", err)
	}
	if err := pool.Ping(ctx); err != nil {
		log.Fatalw("pg ping", "err", err, "dsn", redactDSN(cfg.DatabaseURL))
	}
	log.Infow("postgres ready", "host", redactDSN(cfg.DatabaseURL), "max_conns", pcfg.MaxConns)
	return pool
}

// MustRedis returns nil when REDIS_URL is unset; callers fall back to process-local state.
func MustRedis(cfg config.Config, log *zap.SugaredLogger) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalw("redis parse", "err", err)
	}
	cli := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		log.Fatalw("redis ping", "err", err)
	}
	log.Infow("redis ready", "addr", opts.Addr, "db", opts.DB)
	return cli
}

// Ready pings whichever backends are configured. Nil arguments are skipped.
func Ready(ctx context.Context, pool *pgxpool.Pool, rdb *redis.Client) map[string]string {
	out := map[string]string{}
	if pool != nil {
		out["postgres"] = "ok"
		if err := pool.Ping(ctx); err != nil {
			out["postgres"] = err.Error()
		}
	}
	if rdb != nil {
		out["redis"] = "ok"
		if err := rdb.Ping(ctx).Err(); err != nil {
			out["redis"] = err.Error()
		}
	}
	return out
}

func redactDSN(dsn string) string {
	if i := strings.LastIndex(dsn, "@"); i > 0 {
		scheme := ""
		if j := strings.Index(dsn, "://"); j > 0 && j < i {
			scheme = dsn[:j+3]
		}
		return scheme + "***@" + dsn[i+1:]
	}
	return dsn
}
