package adminapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"wpmcp/pkg/middleware"
	"wpmcp/pkg/problems"
	"wpmcp/pkg/store"
)

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return problems.Newf(problems.ValidationFailed, "invalid JSON: %v", err)
	}
	return nil
}

func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var p *problems.Problem
	if !errors.As(err, &p) {
		a.log.Errorw("admin request failed", "path", r.URL.Path, "err", err)
	}
	problems.Write(w, err)
}

// audit records who did what. Every mutating admin route calls it.
func (a *App) audit(r *http.Request, action, target string) {
	id := middleware.IdentityFrom(r.Context())
	var admin, scheme string
	if id != nil {
		admin, scheme = id.AdminID, string(id.Scheme)
	}
	a.log.Infow("admin action", "action", action, "target", target, "admin_id", admin, "scheme", scheme,
		"request_id", middleware.RequestIDFrom(r.Context()))
}

func (a *App) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	sess, err := a.p.Accounts.AdminLogin(r.Context(), body.Email, body.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, sess, http.StatusOK)
}

func (a *App) listPlans(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"plans": a.p.Plans.All()}, http.StatusOK)
}

func (a *App) getTenant(w http.ResponseWriter, r *http.Request) {
	t, err := a.p.Accounts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, t, http.StatusOK)
}

func (a *App) setStatus(w http.ResponseWriter, r *http.Request, status store.TenantStatus) {
	id := chi.URLParam(r, "id")
	t, err := a.p.Accounts.SetStatus(r.Context(), id, status)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.audit(r, "tenant.status."+string(status), id)
	writeJSON(w, t, http.StatusOK)
}

func (a *App) suspendTenant(w http.ResponseWriter, r *http.Request) {
	a.setStatus(w, r, store.StatusSuspended)
}

func (a *App) activateTenant(w http.ResponseWriter, r *http.Request) {
	a.setStatus(w, r, store.StatusActive)
}

func (a *App) putTier(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tier string `json:"tier"`
	}
	if err := decode(r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	t, err := a.p.Accounts.ChangeTier(r.Context(), id, body.Tier)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.audit(r, "tenant.tier", id)
	writeJSON(w, t, http.StatusOK)
}

func (a *App) deleteTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.p.Accounts.DeleteAccount(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	a.audit(r, "tenant.delete", id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) getUsage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.p.Accounts.Get(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	s, err := a.p.Usage.Usage(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, s, http.StatusOK)
}

func (a *App) resetUsage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.p.Accounts.Get(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.p.Usage.Reset(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	a.audit(r, "usage.reset", id)
	s, err := a.p.Usage.Usage(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, s, http.StatusOK)
}

func (a *App) reactivateWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h, err := a.p.Webhooks.ReactivateAny(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.audit(r, "webhook.reactivate", id)
	writeJSON(w, h, http.StatusOK)
}
