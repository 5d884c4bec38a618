package jwt

import (
	"context"
	"net/http"
	"strings"

	"roomchat/internal/app/user"
	"roomchat/internal/pkg/logx"
)

// contextKey is a private type for context keys, preventing collisions with other packages.
type contextKey string

// contextIdentityKey stores the resolved user.Identity in the request context.
const contextIdentityKey contextKey = "identity"

// IdentityExtractorMiddleware extracts and validates a JWT from the Authorization
// header and injects the resolved identity into the request context. It does not
// interrupt the request on a missing or invalid token; the user is treated as
// anonymous and handlers decide whether identity is mandatory.
func IdentityExtractorMiddleware(secretKey string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				next.ServeHTTP(w, r)
				return
			}

			payload, err := ParseToken(parts[1], secretKey)
			if err != nil {
				logx.Warn("Invalid or expired JWT provided, treating as anonymous", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			identity := user.Identity{ID: payload.UserID, Name: payload.Name}
			ctx := context.WithValue(r.Context(), contextIdentityKey, identity)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the resolved identity from the request context.
// The second return value is false for anonymous requests.
func IdentityFromContext(r *http.Request) (user.Identity, bool) {
	identity, ok := r.Context().Value(contextIdentityKey).(user.Identity)
	return identity, ok
}
