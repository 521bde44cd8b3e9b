package middleware

import (
	"context"
	"net/http"
)

// TokenVerifier reports whether a capability token is currently valid.
type TokenVerifier interface {
	Privileged(token string) bool
}

// Privilege returns a middleware that reads the capability cookie and stores
// the resulting flag in context. A missing or invalid cookie is not an error;
// the request simply continues unprivileged.
func Privilege(verifier TokenVerifier, cookieName string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			privileged := false
			if c, err := r.Cookie(cookieName); err == nil {
				privileged = verifier.Privileged(c.Value)
			}

			ctx := context.WithValue(r.Context(), PrivilegedKey, privileged)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
