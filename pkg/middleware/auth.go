// pkg/middleware/auth.go
package middleware

import (
	"context"
	"net/http"

	"wpmcp/internal/resolver"
	"wpmcp/pkg/problems"
)

// IdentityResolver is satisfied by *resolver.Resolver.
type IdentityResolver interface {
	Resolve(ctx context.Context, h http.Header) (*resolver.Identity, error)
}

type ctxIdentityKey struct{}

func WithIdentity(ctx context.Context, id *resolver.Identity) context.Context {
	return context.WithValue(ctx, ctxIdentityKey{}, id)
}

// IdentityFrom returns nil outside an authenticated route.
func IdentityFrom(ctx context.Context) *resolver.Identity {
	if v, ok := ctx.Value(ctxIdentityKey{}).(*resolver.Identity); ok {
		return v
	}
	return nil
}

// Authenticate resolves the caller once per request and rejects with the resolver's
// problem code when no scheme matches.
func Authenticate(res IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := res.Resolve(r.Context(), r.Header)
			if err != nil {
				problems.Write(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// CORS echoes an allowed Origin. "*" allows any origin.
func CORS(allowed []string) func(http.Handler) http.Handler {
	match := func(origin string) bool {
		if origin == "" {
			return false
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if match(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Wordpress-Url, X-Wordpress-Username, X-Wordpress-Password")
				w.Header().Set("Access-Control-Max-Age", "86400")
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
