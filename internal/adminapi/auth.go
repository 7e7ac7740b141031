package adminapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwt"

	"wpmcp/internal/resolver"
	"wpmcp/internal/token"
	"wpmcp/pkg/middleware"
	"wpmcp/pkg/problems"
)

// Roles accepted from the external identity provider.
var oidcRoles = map[string]bool{"owner": true, "admin": true}

// adminAuth accepts admin JWTs from /admin/login and, when a JWKS is configured,
// bearer tokens from the external provider. Tenant credentials are refused.
func (a *App) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.p.Resolver.Resolve(r.Context(), r.Header)
		if err != nil && a.adminJWKS != nil {
			if oid, oerr := a.fromOIDC(r); oerr == nil {
				id, err = oid, nil
			}
		}
		if err != nil {
			problems.Write(w, err)
			return
		}
		middleware.RequireAdmin(next).ServeHTTP(w, r.WithContext(middleware.WithIdentity(r.Context(), id)))
	})
}

func (a *App) fromOIDC(r *http.Request) (*resolver.Identity, error) {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return nil, problems.ErrMissingToken
	}
	raw := strings.TrimSpace(authz[len("Bearer "):])
	opts := []jwt.ParseOption{jwt.WithKeySet(a.adminJWKS), jwt.WithValidate(true)}
	if a.cfg.OIDCIssuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.OIDCIssuer))
	}
	if a.cfg.OIDCAudience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.OIDCAudience))
	}
	jt, err := jwt.Parse([]byte(raw), opts...)
	if err != nil {
		return nil, problems.ErrInvalidToken
	}
	role, _ := jt.Get("role")
	if !oidcRoles[fmt.Sprint(role)] {
		return nil, problems.New(problems.Forbidden, "provider role is not an admin role")
	}
	a.log.Debugw("oidc admin", "sub", jt.Subject(), "role", role)
	return &resolver.Identity{
		Kind:        token.KindAdmin,
		Scheme:      resolver.SchemeOIDC,
		AdminID:     jt.Subject(),
		Role:        fmt.Sprint(role),
		Permissions: []resolver.Permission{resolver.PermAdmin},
	}, nil
}
