package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"wpmcp/internal/connections"
)

func (a *App) listConnections(w http.ResponseWriter, r *http.Request) {
	list, err := a.p.Connections.List(r.Context(), identity(r).TenantID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"connections": list}, http.StatusOK)
}

func (a *App) createConnection(w http.ResponseWriter, r *http.Request) {
	var in connections.Input
	if err := decode(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	c, err := a.p.Connections.Create(r.Context(), identity(r).TenantID, in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, c, http.StatusCreated)
}

func (a *App) deleteConnection(w http.ResponseWriter, r *http.Request) {
	if err := a.p.Connections.Delete(r.Context(), identity(r).TenantID, chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createKeyBody struct {
	ConnectionID string `json:"connection_id"`
	Name         string `json:"name"`
}

func (a *App) listKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := a.p.Connections.ListKeys(r.Context(), identity(r).TenantID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"api_keys": keys}, http.StatusOK)
}

// createKey returns the plaintext key. It is never retrievable again.
func (a *App) createKey(w http.ResponseWriter, r *http.Request) {
	var body createKeyBody
	if err := decode(r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	created, err := a.p.Connections.CreateKey(r.Context(), identity(r).TenantID, body.ConnectionID, body.Name)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, created, http.StatusCreated)
}

func (a *App) revokeKey(w http.ResponseWriter, r *http.Request) {
	if err := a.p.Connections.RevokeKey(r.Context(), identity(r).TenantID, chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"id": chi.URLParam(r, "id"), "status": "revoked"}, http.StatusOK)
}

func (a *App) deleteKey(w http.ResponseWriter, r *http.Request) {
	if err := a.p.Connections.DeleteKey(r.Context(), identity(r).TenantID, chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) getUsage(w http.ResponseWriter, r *http.Request) {
	s, err := a.p.Usage.Usage(r.Context(), identity(r).TenantID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, s, http.StatusOK)
}
