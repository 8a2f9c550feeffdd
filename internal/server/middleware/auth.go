package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/resale/internal/crypto"
	"github.com/alanyoungcy/resale/internal/domain"
)

// TokenVerifier checks a session token and returns its claims.
type TokenVerifier interface {
	Verify(token string) (crypto.Claims, error)
}

// Authenticate resolves the caller and stores it in the request context. The
// caller comes from an HMAC-signed bearer token or, when gatewayKey is set and
// presented in X-Gateway-Key, from the X-User-ID and X-User-Role headers set
// by a trusted gateway. Requests without credentials pass through
// unauthenticated; handlers decide whether identity is required. A presented
// but invalid credential is rejected with 401.
func Authenticate(tokens TokenVerifier, gatewayKey string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := bearerToken(r); token != "" {
				if tokens == nil {
					writeUnauthorized(w, "token authentication is not configured")
					return
				}
				claims, err := tokens.Verify(token)
				if err != nil {
					logger.DebugContext(r.Context(), "auth: token rejected", slog.String("error", err.Error()))
					writeUnauthorized(w, "invalid authentication token")
					return
				}
				p := domain.Principal{UserID: claims.UserID, Role: claims.Role}
				next.ServeHTTP(w, r.WithContext(domain.ContextWithPrincipal(r.Context(), p)))
				return
			}

			if key := r.Header.Get("X-Gateway-Key"); key != "" {
				// Constant-time comparison to prevent timing attacks.
				if gatewayKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(gatewayKey)) != 1 {
					writeUnauthorized(w, "invalid gateway key")
					return
				}
				p := domain.Principal{
					UserID: strings.TrimSpace(r.Header.Get("X-User-ID")),
					Role:   strings.TrimSpace(r.Header.Get("X-User-Role")),
				}
				if p.Role == "" {
					p.Role = domain.RoleMember
				}
				next.ServeHTTP(w, r.WithContext(domain.ContextWithPrincipal(r.Context(), p)))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken returns the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `","code":"unauthenticated"}`))
}
