package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wpmcp/internal/adminapi"
	"wpmcp/internal/platform"
	"wpmcp/pkg/config"
	"wpmcp/pkg/db"
	"wpmcp/pkg/logger"
	"wpmcp/pkg/middleware"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	defer log.Sync()

	pool := db.MustConnect(cfg, log)
	rdb := db.MustRedis(cfg, log)

	p, err := platform.Build(context.Background(), cfg, pool, rdb, log)
	if err != nil {
		log.Fatalw("platform", "err", err)
	}
	app, err := adminapi.New(p, adminapi.Config{
		CORSOrigins:  cfg.AdminCORSOrigins,
		OIDCIssuer:   cfg.AdminOIDCIssuer,
		OIDCAudience: cfg.AdminOIDCAudience,
		JWKSURL:      cfg.AdminJWKSURL,
	}, log)
	if err != nil {
		log.Fatalw("admin api", "err", err)
	}

	srv := &http.Server{Addr: cfg.AdminAddr, Handler: app.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Infow("admin-api listening", "addr", cfg.AdminAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if err := p.Close(ctx); err != nil {
		log.Warnw("webhook drain", "err", err)
	}
	_ = middleware.ShutdownTracing(ctx)
	if pool != nil {
		pool.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	fmt.Println("admin-api stopped")
}
