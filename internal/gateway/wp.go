package gateway

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"wpmcp/internal/resolver"
	"wpmcp/internal/webhook"
	"wpmcp/internal/wordpress"
	"wpmcp/pkg/problems"
)

const (
	HeaderQuotaLimit     = "X-Quota-Limit"
	HeaderQuotaRemaining = "X-Quota-Remaining"
)

// Headers copied back from the site. Everything else stays upstream.
var passHeaders = []string{"Content-Type", "X-WP-Total", "X-WP-TotalPages"}

// proxyWordPress forwards /v1/wp/<path> to the caller's site. Metered callers are
// charged only once their site credentials resolve, and the outcome is recorded afterwards.
func (a *App) proxyWordPress(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	path := chi.URLParam(r, "*")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		a.fail(w, r, problems.New(problems.ValidationFailed, "unreadable request body"))
		return
	}

	if id.Legacy != nil {
		creds := wordpress.Credentials{URL: id.Legacy.URL, Username: id.Legacy.Username, Password: id.Legacy.Password}
		resp, err := a.p.WordPress.Do(r.Context(), creds, r.Method, path, r.URL.Query(), body)
		if err != nil {
			a.log.Warnw("legacy passthrough failed", "err", err)
			a.fail(w, r, problems.New(problems.UpstreamFailed, "WordPress site did not respond"))
			return
		}
		writeUpstream(w, resp)
		return
	}
	if !id.Metered() {
		a.fail(w, r, problems.New(problems.Forbidden, "a tenant credential is required"))
		return
	}

	ctx := r.Context()
	creds, err := a.credentials(ctx, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	d, err := a.p.Usage.CheckAndIncrement(ctx, id.TenantID, id.Period)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	setQuotaHeaders(w, d.Limit, d.Remaining)
	if !d.Allowed {
		a.fail(w, r, d.Err())
		return
	}

	resp, err := a.p.WordPress.Do(ctx, creds, r.Method, path, r.URL.Query(), body)
	if err != nil {
		a.outcome(ctx, id, false)
		a.requestFailed(ctx, id, r.Method, path, 0, err.Error())
		a.fail(w, r, problems.New(problems.UpstreamFailed, "WordPress site did not respond"))
		return
	}
	a.outcome(ctx, id, resp.Status < http.StatusBadRequest)
	if resp.Status >= http.StatusInternalServerError {
		a.requestFailed(ctx, id, r.Method, path, resp.Status, "")
	}
	writeUpstream(w, resp)
}

// credentials resolves the site an identity talks to. API keys are bound to one
// connection; session tokens use the tenant's oldest connection.
func (a *App) credentials(ctx context.Context, id *resolver.Identity) (wordpress.Credentials, error) {
	connID := id.ConnectionID
	if connID == "" {
		c, err := a.p.Connections.Default(ctx, id.TenantID)
		if err != nil {
			return wordpress.Credentials{}, err
		}
		connID = c.ID
	}
	c, err := a.p.Connections.Credentials(ctx, id.TenantID, connID)
	if err != nil {
		return wordpress.Credentials{}, err
	}
	return wordpress.Credentials{URL: c.URL, Username: c.Username, Password: c.Password}, nil
}

func (a *App) outcome(ctx context.Context, id *resolver.Identity, success bool) {
	if err := a.p.Usage.RecordOutcome(ctx, id.TenantID, id.Period, success); err != nil {
		a.log.Warnw("record outcome", "tenant_id", id.TenantID, "err", err)
	}
}

func (a *App) requestFailed(ctx context.Context, id *resolver.Identity, method, path string, status int, msg string) {
	data := map[string]any{"method": method, "path": path, "connection_id": id.ConnectionID}
	if status > 0 {
		data["status_code"] = status
	}
	if msg != "" {
		data["error"] = msg
	}
	if err := a.p.Dispatcher.Dispatch(ctx, id.TenantID, webhook.EventRequestFailed, data); err != nil {
		a.log.Warnw("dispatch request_failed", "tenant_id", id.TenantID, "err", err)
	}
}

func setQuotaHeaders(w http.ResponseWriter, limit, remaining int64) {
	if limit < 0 {
		w.Header().Set(HeaderQuotaLimit, "unlimited")
		return
	}
	w.Header().Set(HeaderQuotaLimit, strconv.FormatInt(limit, 10))
	w.Header().Set(HeaderQuotaRemaining, strconv.FormatInt(remaining, 10))
}

func writeUpstream(w http.ResponseWriter, resp wordpress.Response) {
	for _, h := range passHeaders {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}
