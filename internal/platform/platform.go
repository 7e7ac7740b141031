// Package platform assembles the shared component graph both services run on.
package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"wpmcp/internal/account"
	"wpmcp/internal/connections"
	"wpmcp/internal/features"
	"wpmcp/internal/resolver"
	"wpmcp/internal/token"
	"wpmcp/internal/usage"
	"wpmcp/internal/vault"
	"wpmcp/internal/webhook"
	"wpmcp/internal/wordpress"
	"wpmcp/pkg/config"
	"wpmcp/pkg/crypto"
	"wpmcp/pkg/plans"
	"wpmcp/pkg/statestore"
	"wpmcp/pkg/store"
)

// Platform holds every long-lived service. Fields are read-only after Build.
type Platform struct {
	Store       store.Store
	Plans       *plans.Catalog
	Features    *features.Gate
	Tokens      *token.Service
	Vault       *vault.Vault
	Resolver    *resolver.Resolver
	Usage       *usage.Gate
	Dispatcher  *webhook.Dispatcher
	Webhooks    *webhook.Service
	Accounts    *account.Service
	Connections *connections.Service
	WordPress   wordpress.Client
	States      statestore.Store

	Pool  *pgxpool.Pool
	Redis *redis.Client

	stateTTL time.Duration
}

// Build wires the graph. pool and rdb may be nil, in which case process-local
// implementations are used.
func Build(ctx context.Context, cfg config.Config, pool *pgxpool.Pool, rdb *redis.Client, log *zap.SugaredLogger) (*Platform, error) {
	if missing := cfg.Validate(); len(missing) > 0 {
		return nil, fmt.Errorf("missing configuration: %v", missing)
	}
	catalog, err := plans.Load(cfg.PlansFile)
	if err != nil {
		return nil, err
	}
	gate, err := features.New(ctx, catalog, log.Named("features"))
	if err != nil {
		return nil, err
	}
	cipher, err := crypto.NewCipher(cfg.MasterEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}

	var st store.Store
	if pool != nil {
		if err := store.EnsureSchema(ctx, pool); err != nil {
			return nil, fmt.Errorf("schema: %w", err)
		}
		st = store.NewPostgres(pool, log.Named("store"))
	} else {
		st = store.NewMemory(log.Named("store"))
	}

	var (
		deny   token.DenyList
		states statestore.Store
		window usage.RateWindow
	)
	if rdb != nil {
		deny = token.NewRedisDenyList(rdb)
		states = statestore.NewRedis(rdb, "wpmcp:state:")
		window = usage.NewRedisWindow(rdb)
	} else {
		deny = token.NewMemoryDenyList()
		states = statestore.NewMemory()
		window = usage.NewLocalWindow()
	}

	tokens, err := token.New(token.Config{
		Issuer:       cfg.BasePublicURL,
		TenantSecret: cfg.TenantJWTSecret,
		AdminSecret:  cfg.AdminJWTSecret,
		TenantTTL:    cfg.TokenTTL,
		AdminTTL:     cfg.AdminTokenTTL,
	}, deny)
	if err != nil {
		return nil, err
	}
	v := vault.New(st, cipher, log.Named("vault"))
	dispatcher := webhook.NewDispatcher(st, webhook.Config{
		Timeout:          cfg.WebhookTimeout,
		FailureThreshold: cfg.WebhookFailureThreshold,
		MaxConcurrency:   cfg.WebhookMaxConcurrency,
	}, log.Named("webhook"))

	p := &Platform{
		Store:      st,
		Plans:      catalog,
		Features:   gate,
		Tokens:     tokens,
		Vault:      v,
		Dispatcher: dispatcher,
		States:     states,
		Pool:       pool,
		Redis:      rdb,
		stateTTL:   cfg.StateTTL,
	}
	p.Resolver = resolver.New(tokens, v, st, resolver.Options{
		LegacyHeaders: cfg.LegacyHeaderAuth,
		PeriodKey:     usage.PeriodKey,
	}, log.Named("resolver"))
	p.Usage = usage.NewGate(st, catalog, window, dispatcher, log.Named("usage"))
	p.Webhooks = webhook.NewService(st, catalog, gate, dispatcher, log.Named("webhook"))
	p.Accounts = account.New(st, tokens, catalog, dispatcher, log.Named("account"))
	p.Connections = connections.New(st, v, catalog, gate, dispatcher, log.Named("connections"))
	p.WordPress = wordpress.NewProxy(30*time.Second, log.Named("wordpress"))

	if err := p.Accounts.SeedAdmin(ctx, cfg.AdminSeedEmail, cfg.AdminSeedPassword); err != nil {
		log.Warnw("admin seed", "err", err)
	}
	log.Infow("platform ready", "postgres", pool != nil, "redis", rdb != nil, "legacy_headers", cfg.LegacyHeaderAuth, "plans", len(catalog.All()))
	return p, nil
}

// EnableSSO plugs an identity provider into the account service. Hand-off state
// lives in the shared state store.
func (p *Platform) EnableSSO(idp account.IdentityProvider) {
	p.Accounts.EnableSSO(p.States, idp, p.stateTTL)
}

// Close waits for in-flight webhook deliveries.
func (p *Platform) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.Dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
