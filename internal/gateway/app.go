// Package gateway is the tenant-facing HTTP surface.
package gateway

import (
	"go.uber.org/zap"

	"wpmcp/internal/platform"
	"wpmcp/pkg/logger"
	"wpmcp/pkg/openapi"
)

const (
	serviceName = "wpmcp-gateway"
	apiVersion  = "1.0.0"
)

type Config struct {
	CORSOrigins []string
	// PublicURL is where the browser lands after SSO when no redirect was requested.
	PublicURL string
}

// App is the gateway container. Handlers are methods on it.
type App struct {
	p   *platform.Platform
	cfg Config
	log *zap.SugaredLogger
	api *openapi.Registry
}

func New(p *platform.Platform, cfg Config, log *zap.SugaredLogger) *App {
	return &App{p: p, cfg: cfg, log: logger.OrNop(log), api: openapi.NewRegistry()}
}
