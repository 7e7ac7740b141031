// cmd/gateway-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wpmcp/internal/gateway"
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
	app := gateway.New(p, gateway.Config{CORSOrigins: cfg.CORSOrigins, PublicURL: cfg.DashboardURL}, log)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: app.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Infow("gateway-service listening", "addr", cfg.HTTPAddr)
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
	fmt.Println("gateway-service stopped")
}
