package adminapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wpmcp/pkg/middleware"
)

const serviceName = "wpmcp-admin"

// Handler builds the HTTP handler with routes and middleware.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID(), chimw.RealIP, chimw.Logger, middleware.Recover(a.log))
	r.Use(middleware.Tracing(serviceName, a.log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"ok": true}, http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/admin", func(ar chi.Router) {
		ar.Use(middleware.CORS(a.cfg.CORSOrigins))
		ar.Post("/login", a.login)

		ar.Group(func(pr chi.Router) {
			pr.Use(a.adminAuth)
			pr.Get("/plans", a.listPlans)
			pr.Get("/tenants/{id}", a.getTenant)
			pr.Delete("/tenants/{id}", a.deleteTenant)
			pr.Post("/tenants/{id}/suspend", a.suspendTenant)
			pr.Post("/tenants/{id}/activate", a.activateTenant)
			pr.Put("/tenants/{id}/tier", a.putTier)
			pr.Get("/tenants/{id}/usage", a.getUsage)
			pr.Post("/tenants/{id}/usage/reset", a.resetUsage)
			pr.Post("/webhooks/{id}/reactivate", a.reactivateWebhook)
		})
	})
	return r
}
