package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/kirogw/kiro-gateway/internal/config"
)

// clientAuthMiddleware accepts either x-api-key or Authorization: Bearer,
// per spec.md §6. Missing/invalid credentials produce a 401 in the
// Anthropic error envelope, not a bare chi 401.
func clientAuthMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !checkKey(r, cfg.APIKey) {
				writeAuthError(w, "invalid x-api-key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// adminAuthMiddleware gates /api/admin/* the same way, but only the router
// mounts it, and only when AdminEnabled() is true.
func adminAuthMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !checkKey(r, cfg.AdminAPIKey) {
				writeAuthError(w, "invalid admin key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func checkKey(r *http.Request, want string) bool {
	if want == "" {
		return false
	}
	if v := r.Header.Get("x-api-key"); v == want {
		return true
	}
	if v := r.Header.Get("X-Admin-Key"); v == want {
		return true
	}
	auth := r.Header.Get("Authorization")
	if rest, ok := strings.CutPrefix(auth, "Bearer "); ok && rest == want {
		return true
	}
	return false
}

// bodyLimitMiddleware enforces the 50 MiB request body cap from spec.md
// §6 with the correct 413 envelope instead of http.MaxBytesReader's bare
// error text.
func bodyLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

type userIDKey struct{}

// withUserID stashes the request's caller-supplied user id (from the
// Anthropic body's "metadata.user_id" field, extracted by the handler
// before this is called) on the context for logging.
func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

func userIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey{}).(string)
	return v
}
