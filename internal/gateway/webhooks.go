package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"wpmcp/internal/webhook"
)

func (a *App) listEventTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"events": webhook.Events()}, http.StatusOK)
}

func (a *App) listWebhooks(w http.ResponseWriter, r *http.Request) {
	list, err := a.p.Webhooks.List(r.Context(), identity(r).TenantID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"webhooks": list}, http.StatusOK)
}

func (a *App) createWebhook(w http.ResponseWriter, r *http.Request) {
	var in webhook.Input
	if err := decode(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	created, err := a.p.Webhooks.Create(r.Context(), identity(r).TenantID, in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, created, http.StatusCreated)
}

func (a *App) getWebhook(w http.ResponseWriter, r *http.Request) {
	h, err := a.p.Webhooks.Get(r.Context(), identity(r).TenantID, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, h, http.StatusOK)
}

func (a *App) updateWebhook(w http.ResponseWriter, r *http.Request) {
	var in webhook.Input
	if err := decode(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	h, err := a.p.Webhooks.Update(r.Context(), identity(r).TenantID, chi.URLParam(r, "id"), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, h, http.StatusOK)
}

func (a *App) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := a.p.Webhooks.Delete(r.Context(), identity(r).TenantID, chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) getWebhookSecret(w http.ResponseWriter, r *http.Request) {
	secret, err := a.p.Webhooks.Secret(r.Context(), identity(r).TenantID, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"secret": secret}, http.StatusOK)
}

func (a *App) rotateWebhookSecret(w http.ResponseWriter, r *http.Request) {
	secret, err := a.p.Webhooks.RotateSecret(r.Context(), identity(r).TenantID, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"secret": secret}, http.StatusOK)
}

// testWebhook reports the delivery outcome in the body. A failed delivery is still 200.
func (a *App) testWebhook(w http.ResponseWriter, r *http.Request) {
	res, err := a.p.Webhooks.Test(r.Context(), identity(r).TenantID, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, res, http.StatusOK)
}

func (a *App) reactivateWebhook(w http.ResponseWriter, r *http.Request) {
	h, err := a.p.Webhooks.Reactivate(r.Context(), identity(r).TenantID, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, h, http.StatusOK)
}

func (a *App) listDeliveries(w http.ResponseWriter, r *http.Request) {
	list, err := a.p.Webhooks.Deliveries(r.Context(), identity(r).TenantID, chi.URLParam(r, "id"), queryInt(r, "limit", 0))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"deliveries": list}, http.StatusOK)
}
