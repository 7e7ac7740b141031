// Package resolver decides which credential authenticates a request.
//
// Order is fixed: a bearer JWT, then a bearer API key, then (only when enabled) the
// legacy x-wordpress-* headers. A bearer that is present but neither a valid token nor
// an active key is rejected outright and never falls through to the legacy headers.
package resolver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"wpmcp/internal/token"
	"wpmcp/internal/vault"
	"wpmcp/pkg/logger"
	"wpmcp/pkg/metrics"
	"wpmcp/pkg/problems"
	"wpmcp/pkg/store"
)

type Scheme string

const (
	SchemeJWT           Scheme = "jwt"
	SchemeAPIKey        Scheme = "api_key"
	SchemeLegacyHeaders Scheme = "legacy_headers"
	SchemeOIDC          Scheme = "oidc" // external admin sign-in, admin API only
)

const (
	HeaderWPURL      = "X-Wordpress-Url"
	HeaderWPUsername = "X-Wordpress-Username"
	HeaderWPPassword = "X-Wordpress-Password"
)

// Permission names a capability granted to an identity.
type Permission string

const (
	PermWordPress   Permission = "wordpress:proxy"
	PermManageKeys  Permission = "keys:manage"
	PermManageConns Permission = "connections:manage"
	PermManageHooks Permission = "webhooks:manage"
	PermReadUsage   Permission = "usage:read"
	PermAdmin       Permission = "admin"
)

// LegacyCredentials are carried verbatim from the request and never stored.
type LegacyCredentials struct {
	URL      string
	Username string
	Password string
}

// Identity is the resolved caller.
type Identity struct {
	Kind         token.Kind
	Scheme       Scheme
	TenantID     string
	Email        string
	Tier         string
	AdminID      string
	Role         string
	ConnectionID string // set for API keys; the key is bound to one site
	KeyID        string
	Period       string // usage period the gate should charge
	Permissions  []Permission
	Claims       *token.Claims
	Legacy       *LegacyCredentials
}

func (id *Identity) Has(p Permission) bool {
	for _, q := range id.Permissions {
		if q == p || q == PermAdmin {
			return true
		}
	}
	return false
}

// Metered is false for legacy passthrough and admin identities.
func (id *Identity) Metered() bool {
	return id.Scheme != SchemeLegacyHeaders && id.Kind == token.KindTenant && id.TenantID != ""
}

type Verifier interface {
	Verify(ctx context.Context, raw string) (*token.Claims, error)
}

type KeyFinder interface {
	FindAPIKeyByPlaintext(ctx context.Context, candidate string) (*store.APIKey, error)
	TouchAPIKey(ctx context.Context, id string)
}

type Options struct {
	LegacyHeaders bool
	PeriodKey     func(time.Time) string
}

type Resolver struct {
	tokens  Verifier
	keys    KeyFinder
	tenants store.Tenants
	opts    Options
	log     *zap.SugaredLogger
	now     func() time.Time
}

func New(tokens Verifier, keys KeyFinder, tenants store.Tenants, opts Options, log *zap.SugaredLogger) *Resolver {
	if opts.PeriodKey == nil {
		opts.PeriodKey = func(t time.Time) string { return t.UTC().Format("2006-01") }
	}
	return &Resolver{tokens: tokens, keys: keys, tenants: tenants, opts: opts, log: logger.OrNop(log), now: time.Now}
}

var _ KeyFinder = (*vault.Vault)(nil)

// Resolve returns a *problems.Problem on every authentication failure.
func (r *Resolver) Resolve(ctx context.Context, h http.Header) (*Identity, error) {
	id, scheme, err := r.resolve(ctx, h)
	result := "ok"
	if err != nil {
		result = string(problems.CodeOf(err))
	}
	metrics.AuthResolutions.WithLabelValues(string(scheme), result).Inc()
	return id, err
}

func (r *Resolver) resolve(ctx context.Context, h http.Header) (*Identity, Scheme, error) {
	if raw, ok := bearer(h); ok {
		if raw == "" {
			return nil, SchemeJWT, problems.ErrMissingToken
		}
		if vault.LooksLikeKey(raw) {
			id, err := r.fromAPIKey(ctx, raw)
			return id, SchemeAPIKey, err
		}
		id, err := r.fromToken(ctx, raw)
		return id, SchemeJWT, err
	}
	if r.opts.LegacyHeaders {
		if creds, ok := legacy(h); ok {
			return &Identity{
				Kind:        token.KindTenant,
				Scheme:      SchemeLegacyHeaders,
				Permissions: []Permission{PermWordPress},
				Legacy:      creds,
			}, SchemeLegacyHeaders, nil
		}
	}
	return nil, "", problems.ErrMissingToken
}

func (r *Resolver) fromToken(ctx context.Context, raw string) (*Identity, error) {
	c, err := r.tokens.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	if c.Kind == token.KindAdmin {
		return &Identity{
			Kind:        token.KindAdmin,
			Scheme:      SchemeJWT,
			AdminID:     c.Subject,
			Role:        c.Role,
			Permissions: []Permission{PermAdmin},
			Claims:      c,
		}, nil
	}
	t, err := r.activeTenant(ctx, c.Subject)
	if err != nil {
		return nil, err
	}
	return &Identity{
		Kind:        token.KindTenant,
		Scheme:      SchemeJWT,
		TenantID:    t.ID,
		Email:       t.Email,
		Tier:        t.Tier, // stored tier, not the claim
		Period:      r.opts.PeriodKey(r.now()),
		Permissions: []Permission{PermWordPress, PermManageKeys, PermManageConns, PermManageHooks, PermReadUsage},
		Claims:      c,
	}, nil
}

func (r *Resolver) fromAPIKey(ctx context.Context, raw string) (*Identity, error) {
	k, err := r.keys.FindAPIKeyByPlaintext(ctx, raw)
	if err != nil {
		r.log.Errorw("api key lookup", "err", err)
		return nil, problems.New(problems.Unavailable, "credential lookup unavailable")
	}
	if k == nil || k.Status != store.KeyActive {
		return nil, problems.ErrInvalidCredentials
	}
	t, err := r.activeTenant(ctx, k.TenantID)
	if err != nil {
		return nil, err
	}
	r.keys.TouchAPIKey(ctx, k.ID)
	return &Identity{
		Kind:         token.KindTenant,
		Scheme:       SchemeAPIKey,
		TenantID:     t.ID,
		Email:        t.Email,
		Tier:         t.Tier,
		ConnectionID: k.ConnectionID,
		KeyID:        k.ID,
		Period:       r.opts.PeriodKey(r.now()),
		Permissions:  []Permission{PermWordPress, PermReadUsage},
	}, nil
}

func (r *Resolver) activeTenant(ctx context.Context, id string) (store.Tenant, error) {
	t, err := r.tenants.GetTenant(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Tenant{}, problems.ErrInvalidCredentials
	}
	if err != nil {
		r.log.Errorw("tenant lookup", "tenant_id", id, "err", err)
		return store.Tenant{}, problems.New(problems.Unavailable, "tenant lookup unavailable")
	}
	if !t.Active() {
		return store.Tenant{}, problems.ErrAccountInactive
	}
	return t, nil
}

// bearer reports whether an Authorization header with the Bearer scheme is present.
func bearer(h http.Header) (string, bool) {
	authz := strings.TrimSpace(h.Get("Authorization"))
	if len(authz) < len("bearer") || !strings.EqualFold(authz[:len("bearer")], "bearer") {
		return "", false
	}
	rest := authz[len("bearer"):]
	if rest != "" && rest[0] != ' ' {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

func legacy(h http.Header) (*LegacyCredentials, bool) {
	u := strings.TrimSpace(h.Get(HeaderWPURL))
	user := strings.TrimSpace(h.Get(HeaderWPUsername))
	pass := h.Get(HeaderWPPassword)
	if u == "" || user == "" || strings.TrimSpace(pass) == "" {
		return nil, false
	}
	return &LegacyCredentials{URL: u, Username: user, Password: StripSpaces(pass)}, true
}

// StripSpaces removes the grouping spaces WordPress shows in application passwords.
func StripSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}
