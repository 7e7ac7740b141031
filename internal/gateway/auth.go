package gateway

import (
	"net/http"
	"net/url"
	"strings"

	"wpmcp/pkg/problems"
)

type credentialsBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *App) signup(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if err := decode(r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	sess, err := a.p.Accounts.Signup(r.Context(), body.Email, body.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, sess, http.StatusCreated)
}

func (a *App) login(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if err := decode(r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	sess, err := a.p.Accounts.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, sess, http.StatusOK)
}

func (a *App) logout(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	if id.Claims == nil {
		a.fail(w, r, problems.New(problems.ValidationFailed, "only session tokens can be logged out"))
		return
	}
	if err := a.p.Accounts.Logout(r.Context(), id.Claims); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) me(w http.ResponseWriter, r *http.Request) {
	t, err := a.p.Accounts.Get(r.Context(), identity(r).TenantID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, t, http.StatusOK)
}

func (a *App) ssoStart(w http.ResponseWriter, r *http.Request) {
	authURL, err := a.p.Accounts.StartSSO(r.Context(), r.URL.Query().Get("redirect"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if r.URL.Query().Get("mode") == "json" {
		writeJSON(w, map[string]string{"auth_url": authURL}, http.StatusOK)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// ssoCallback answers with JSON unless a public URL is configured, in which case the
// browser is sent back to the app with the token in the fragment.
func (a *App) ssoCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if msg := q.Get("error"); msg != "" {
		a.fail(w, r, problems.Newf(problems.InvalidCredentials, "identity provider refused sign-in: %s", msg))
		return
	}
	sess, redirect, err := a.p.Accounts.FinishSSO(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if a.cfg.PublicURL == "" {
		writeJSON(w, map[string]any{"token": sess.Token, "tenant": sess.Tenant, "redirect": redirect}, http.StatusOK)
		return
	}
	target := strings.TrimRight(a.cfg.PublicURL, "/") + redirect + "#token=" + url.QueryEscape(sess.Token)
	http.Redirect(w, r, target, http.StatusFound)
}
