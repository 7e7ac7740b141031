// pkg/middleware/scope.go
package middleware

import (
	"net/http"

	"wpmcp/internal/resolver"
	"wpmcp/internal/token"
	"wpmcp/pkg/problems"
)

// RequirePermission must run after Authenticate.
func RequirePermission(p resolver.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFrom(r.Context())
			if id == nil {
				problems.Write(w, problems.ErrMissingToken)
				return
			}
			if !id.Has(p) {
				problems.Write(w, problems.Newf(problems.Forbidden, "this credential lacks the %s permission", p))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireTenant rejects admin and legacy identities on tenant self-service routes.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFrom(r.Context())
		if id == nil {
			problems.Write(w, problems.ErrMissingToken)
			return
		}
		if id.Kind != token.KindTenant || id.TenantID == "" {
			problems.Write(w, problems.New(problems.Forbidden, "a tenant credential is required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin accepts only identities verified with the admin signing key.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFrom(r.Context())
		if id == nil {
			problems.Write(w, problems.ErrMissingToken)
			return
		}
		if id.Kind != token.KindAdmin || !id.Has(resolver.PermAdmin) {
			problems.Write(w, problems.New(problems.Forbidden, "an admin token is required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
