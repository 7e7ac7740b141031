package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"wpmcp/pkg/problems"
	"wpmcp/pkg/statestore"
	"wpmcp/pkg/store"
)

// IdentityProvider is the external SAML/OIDC integration. It only has to turn a
// callback code into a verified email address.
type IdentityProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (email string, err error)
}

type SSO struct {
	states statestore.Store
	idp    IdentityProvider
	ttl    time.Duration
}

type pendingSSO struct {
	Redirect string    `json:"redirect"`
	Started  time.Time `json:"started"`
}

// EnableSSO wires the hand-off. Without it StartSSO and FinishSSO return NOT_IMPLEMENTED.
func (s *Service) EnableSSO(states statestore.Store, idp IdentityProvider, ttl time.Duration) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	s.sso = &SSO{states: states, idp: idp, ttl: ttl}
}

var errSSODisabled = problems.New(problems.NotImplemented, "single sign-on is not configured")

// StartSSO returns the provider URL to send the browser to.
func (s *Service) StartSSO(ctx context.Context, redirect string) (string, error) {
	if s.sso == nil {
		return "", errSSODisabled
	}
	redirect = safeRedirect(redirect)
	state := statestore.NewState()
	raw, _ := json.Marshal(pendingSSO{Redirect: redirect, Started: s.now().UTC()})
	if err := s.sso.states.Put(ctx, ssoKey(state), raw, s.sso.ttl); err != nil {
		return "", fmt.Errorf("store sso state: %w", err)
	}
	return s.sso.idp.AuthURL(state), nil
}

// FinishSSO consumes state exactly once, then finds or creates the tenant for the
// email the provider vouches for.
func (s *Service) FinishSSO(ctx context.Context, state, code string) (Session, string, error) {
	if s.sso == nil {
		return Session{}, "", errSSODisabled
	}
	if state == "" || code == "" {
		return Session{}, "", problems.New(problems.ValidationFailed, "state and code are required")
	}
	raw, err := s.sso.states.Consume(ctx, ssoKey(state))
	if errors.Is(err, statestore.ErrNotFound) {
		return Session{}, "", problems.New(problems.InvalidCredentials, "sign-in state is unknown, expired or already used")
	}
	if err != nil {
		return Session{}, "", fmt.Errorf("consume sso state: %w", err)
	}
	var p pendingSSO
	if err := json.Unmarshal(raw, &p); err != nil {
		return Session{}, "", fmt.Errorf("decode sso state: %w", err)
	}
	email, err := s.sso.idp.Exchange(ctx, code)
	if err != nil {
		s.log.Warnw("sso exchange failed", "err", err)
		return Session{}, "", problems.ErrInvalidCredentials
	}
	email, err = normalizeEmail(email)
	if err != nil {
		return Session{}, "", problems.ErrInvalidCredentials
	}

	t, err := s.store.GetTenantByEmail(ctx, email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		sess, err := s.createTenant(ctx, email, "")
		return sess, p.Redirect, err
	case err != nil:
		return Session{}, "", err
	case !t.Active():
		return Session{}, "", problems.ErrAccountInactive
	}
	sess, err := s.session(t)
	return sess, p.Redirect, err
}

func ssoKey(state string) string { return "sso:" + state }

// safeRedirect only allows same-origin paths.
func safeRedirect(r string) string {
	if !strings.HasPrefix(r, "/") || strings.HasPrefix(r, "//") || strings.HasPrefix(r, "/\\") {
		return "/"
	}
	return r
}
