package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wpmcp/internal/resolver"
	"wpmcp/pkg/db"
	"wpmcp/pkg/middleware"
	"wpmcp/pkg/openapi"
)

const prefix = "/v1"

// Handler builds the HTTP handler with routes and middleware.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID(), chimw.RealIP, chimw.Logger, middleware.Recover(a.log))
	r.Use(middleware.Tracing(serviceName, a.log))
	r.Use(middleware.CORS(a.cfg.CORSOrigins))

	r.Get("/healthz", a.healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/.well-known/openapi.json", a.api.ServeHandler(serviceName, apiVersion))

	r.Route(prefix, func(v chi.Router) {
		a.mount(v, http.MethodPost, "/auth/signup", "", "Create an account", "auth", a.signup)
		a.mount(v, http.MethodPost, "/auth/login", "", "Sign in with email and password", "auth", a.login)
		a.mount(v, http.MethodGet, "/auth/sso/start", "", "Begin single sign-on", "auth", a.ssoStart)
		a.mount(v, http.MethodGet, "/auth/sso/callback", "", "Complete single sign-on", "auth", a.ssoCallback)
		a.mount(v, http.MethodGet, "/webhooks/events", "", "List subscribable event types", "webhooks", a.listEventTypes)

		v.Group(func(pr chi.Router) {
			pr.Use(middleware.Authenticate(a.p.Resolver))

			a.mount(pr, http.MethodGet, "/wp/*", resolver.PermWordPress, "Proxy a WordPress REST GET", "wordpress", a.proxyWordPress)
			for _, m := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
				a.mount(pr, m, "/wp/*", resolver.PermWordPress, "Proxy a WordPress REST call", "wordpress", a.proxyWordPress)
			}

			pr.Group(func(tr chi.Router) {
				tr.Use(middleware.RequireTenant)
				a.mount(tr, http.MethodPost, "/auth/logout", resolver.PermManageKeys, "Revoke the presented token", "auth", a.logout)
				a.mount(tr, http.MethodGet, "/me", resolver.PermReadUsage, "The signed-in tenant", "auth", a.me)
				a.mount(tr, http.MethodGet, "/usage", resolver.PermReadUsage, "Current period usage", "usage", a.getUsage)

				a.mount(tr, http.MethodGet, "/connections", resolver.PermManageConns, "List WordPress connections", "connections", a.listConnections)
				a.mount(tr, http.MethodPost, "/connections", resolver.PermManageConns, "Add a WordPress connection", "connections", a.createConnection)
				a.mount(tr, http.MethodDelete, "/connections/{id}", resolver.PermManageConns, "Remove a connection and its keys", "connections", a.deleteConnection)

				a.mount(tr, http.MethodGet, "/api-keys", resolver.PermManageKeys, "List API keys", "api-keys", a.listKeys)
				a.mount(tr, http.MethodPost, "/api-keys", resolver.PermManageKeys, "Issue an API key", "api-keys", a.createKey)
				a.mount(tr, http.MethodPost, "/api-keys/{id}/revoke", resolver.PermManageKeys, "Revoke an API key", "api-keys", a.revokeKey)
				a.mount(tr, http.MethodDelete, "/api-keys/{id}", resolver.PermManageKeys, "Delete an API key", "api-keys", a.deleteKey)

				a.mount(tr, http.MethodGet, "/webhooks", resolver.PermManageHooks, "List webhooks", "webhooks", a.listWebhooks)
				a.mount(tr, http.MethodPost, "/webhooks", resolver.PermManageHooks, "Register a webhook", "webhooks", a.createWebhook)
				a.mount(tr, http.MethodGet, "/webhooks/{id}", resolver.PermManageHooks, "Get a webhook", "webhooks", a.getWebhook)
				a.mount(tr, http.MethodPatch, "/webhooks/{id}", resolver.PermManageHooks, "Update a webhook", "webhooks", a.updateWebhook)
				a.mount(tr, http.MethodDelete, "/webhooks/{id}", resolver.PermManageHooks, "Delete a webhook", "webhooks", a.deleteWebhook)
				a.mount(tr, http.MethodGet, "/webhooks/{id}/secret", resolver.PermManageHooks, "Reveal the signing secret", "webhooks", a.getWebhookSecret)
				a.mount(tr, http.MethodPost, "/webhooks/{id}/secret/rotate", resolver.PermManageHooks, "Rotate the signing secret", "webhooks", a.rotateWebhookSecret)
				a.mount(tr, http.MethodPost, "/webhooks/{id}/test", resolver.PermManageHooks, "Send a test event", "webhooks", a.testWebhook)
				a.mount(tr, http.MethodPost, "/webhooks/{id}/reactivate", resolver.PermManageHooks, "Re-enable a disabled webhook", "webhooks", a.reactivateWebhook)
				a.mount(tr, http.MethodGet, "/webhooks/{id}/deliveries", resolver.PermManageHooks, "Delivery history", "webhooks", a.listDeliveries)
			})
		})
	})
	return r
}

// mount registers a route and documents it in the OpenAPI registry.
func (a *App) mount(r chi.Router, method, path string, perm resolver.Permission, summary, tag string, h http.HandlerFunc) {
	a.api.Register(openapi.Operation{Method: method, Path: prefix + path, Summary: summary, Tags: []string{tag}, Permission: string(perm)})
	if perm == "" {
		r.Method(method, path, h)
		return
	}
	r.With(middleware.RequirePermission(perm)).Method(method, path, h)
}

func (a *App) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	deps := db.Ready(ctx, a.p.Pool, a.p.Redis)
	status := http.StatusOK
	for _, v := range deps {
		if v != "ok" {
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, map[string]any{"ok": status == http.StatusOK, "deps": deps}, status)
}
