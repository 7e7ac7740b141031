// Package adminapi is the operator surface: tenant lifecycle, quota resets and webhook recovery.
package adminapi

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"

	"wpmcp/internal/platform"
	"wpmcp/pkg/logger"
)

// Config holds admin-api specific configuration.
type Config struct {
	CORSOrigins  []string
	OIDCIssuer   string
	OIDCAudience string
	JWKSURL      string
}

// App is the admin-api application container.
// Handlers and middleware have methods on this type.
type App struct {
	p         *platform.Platform
	log       *zap.SugaredLogger
	cfg       Config
	adminJWKS jwk.Set // nil unless external admin sign-in is configured
}

// New fetches the JWKS once when configured. Admin JWTs issued by /admin/login work either way.
func New(p *platform.Platform, cfg Config, log *zap.SugaredLogger) (*App, error) {
	app := &App{p: p, cfg: cfg, log: logger.OrNop(log)}
	if cfg.JWKSURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		set, err := jwk.Fetch(ctx, cfg.JWKSURL)
		if err != nil {
			return nil, fmt.Errorf("fetch admin jwks: %w", err)
		}
		app.adminJWKS = set
	}
	return app, nil
}

// WithKeySet sets the external admin keys directly.
func (a *App) WithKeySet(set jwk.Set) *App {
	a.adminJWKS = set
	return a
}
