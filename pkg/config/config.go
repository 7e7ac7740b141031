package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env       string
	HTTPAddr  string // gateway-service
	AdminAddr string // admin-api-service

	BasePublicURL string
	DashboardURL  string // SSO lands here; empty returns the session as JSON
	CORSOrigins   []string

	// Redis & Postgres
	RedisURL    string
	DatabaseURL string

	// Secrets (injected into crypto/token constructors, never read elsewhere)
	MasterEncryptionKey string
	TenantJWTSecret     string
	AdminJWTSecret      string
	TokenTTL            time.Duration
	AdminTokenTTL       time.Duration

	// Legacy x-wordpress-* passthrough; bypasses quota and webhooks
	LegacyHeaderAuth bool

	PlansFile string

	WebhookTimeout          time.Duration
	WebhookFailureThreshold int
	WebhookMaxConcurrency   int

	StateTTL time.Duration

	AdminSeedEmail    string
	AdminSeedPassword string

	// Optional external admin sign-in; tokens are checked against the JWKS.
	AdminOIDCIssuer   string
	AdminOIDCAudience string
	AdminJWKSURL      string
	AdminCORSOrigins  []string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:                     env("WPMCP_ENV", "dev"),
		HTTPAddr:                env("WPMCP_HTTP_ADDR", ":8080"),
		AdminAddr:               env("WPMCP_ADMIN_ADDR", ":8082"),
		BasePublicURL:           env("BASE_PUBLIC_URL", "http://localhost:8080"),
		DashboardURL:            env("DASHBOARD_URL", ""),
		CORSOrigins:             envList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		RedisURL:                env("REDIS_URL", ""),
		DatabaseURL:             env("DATABASE_URL", ""),
		MasterEncryptionKey:     env("MASTER_ENCRYPTION_KEY", ""),
		TenantJWTSecret:         env("TENANT_JWT_SECRET", ""),
		AdminJWTSecret:          env("ADMIN_JWT_SECRET", ""),
		TokenTTL:                envDur("TOKEN_TTL_SEC", 86400) * time.Second,
		AdminTokenTTL:           envDur("ADMIN_TOKEN_TTL_SEC", 28800) * time.Second,
		LegacyHeaderAuth:        envBool("LEGACY_HEADER_AUTH", false),
		PlansFile:               env("PLANS_FILE", ""),
		WebhookTimeout:          envDur("WEBHOOK_TIMEOUT_SEC", 10) * time.Second,
		WebhookFailureThreshold: envInt("WEBHOOK_FAILURE_THRESHOLD", 5),
		WebhookMaxConcurrency:   envInt("WEBHOOK_MAX_CONCURRENCY", 8),
		StateTTL:                envDur("STATE_TTL_SEC", 600) * time.Second,
		AdminSeedEmail:          env("ADMIN_SEED_EMAIL", ""),
		AdminSeedPassword:       env("ADMIN_SEED_PASSWORD", ""),
		AdminOIDCIssuer:         env("ADMIN_OIDC_ISSUER", ""),
		AdminOIDCAudience:       env("ADMIN_OIDC_AUDIENCE", ""),
		AdminJWKSURL:            env("ADMIN_JWKS_URL", ""),
		AdminCORSOrigins:        envList("ADMIN_CORS_ORIGINS", []string{"http://localhost:3001"}),
	}
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set - using in-memory stores for dev")
	}
	if cfg.RedisURL == "" {
		log.Println("[WARN] REDIS_URL not set - state, deny-list and rate windows are process-local")
	}
	if cfg.Env == "dev" {
		if cfg.MasterEncryptionKey == "" {
			cfg.MasterEncryptionKey = "dev-master-key-change-me"
		}
		if cfg.TenantJWTSecret == "" {
			cfg.TenantJWTSecret = "dev-tenant-secret-change-me"
		}
		if cfg.AdminJWTSecret == "" {
			cfg.AdminJWTSecret = "dev-admin-secret-change-me"
		}
	}
	return cfg
}

// Validate reports missing secrets; callers decide whether that is fatal.
func (c Config) Validate() []string {
	var missing []string
	if c.MasterEncryptionKey == "" {
		missing = append(missing, "MASTER_ENCRYPTION_KEY")
	}
	if c.TenantJWTSecret == "" {
		missing = append(missing, "TENANT_JWT_SECRET")
	}
	if c.AdminJWTSecret == "" {
		missing = append(missing, "ADMIN_JWT_SECRET")
	}
	if c.TenantJWTSecret != "" && c.TenantJWTSecret == c.AdminJWTSecret {
		missing = append(missing, "ADMIN_JWT_SECRET (must differ from TENANT_JWT_SECRET)")
	}
	return missing
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, _ := strconv.ParseBool(v)
		return b
	}
	return def
}
func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return time.Duration(i)
	}
	return time.Duration(def)
}
func envList(k string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
