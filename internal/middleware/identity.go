package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/clearharbor/sentinel/internal/auth"
)

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// BearerToken extracts the token from an Authorization header.
// Returns empty string if the header is missing or malformed.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// Authenticate validates the bearer token and attaches the actor to the
// request context. Requests without a valid access token are rejected with
// 401; refresh tokens are not accepted on API routes.
func Authenticate(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				r = r.WithContext(SetErrorCode(r.Context(), "missing_token"))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil || claims.Type != auth.TokenTypeAccess {
				r = r.WithContext(SetErrorCode(r.Context(), "invalid_token"))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := SetActor(r.Context(), Actor{
				ID:             claims.Subject,
				Role:           claims.Role,
				OrganizationID: claims.OrganizationID,
				SessionID:      claims.SessionID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ExtractIPAddress returns the client IP for a request, honoring proxy
// headers: X-Forwarded-For (first hop), then X-Real-IP, then RemoteAddr.
func ExtractIPAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Use the first IP in the chain, trimming whitespace per RFC 7239
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port
		return r.RemoteAddr
	}
	return host
}
