package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// DefaultOwnerID is used when a request carries no X-User-ID header. The
// server fronts a single account by default; multi-user deployments set
// the header per request.
const DefaultOwnerID = "default"

type ownerKey struct{}

// BearerAuth rejects requests whose Authorization header does not carry
// the configured token.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ResolveOwner determines the owner id every handler scopes its reads and
// writes to, and stashes it in the request context.
func ResolveOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if owner == "" {
			owner = DefaultOwnerID
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

// ownerID returns the owner resolved by ResolveOwner.
func ownerID(r *http.Request) string {
	if v, ok := r.Context().Value(ownerKey{}).(string); ok && v != "" {
		return v
	}
	return DefaultOwnerID
}
