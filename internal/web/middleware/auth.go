package middleware

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kamal2602/thinkhub-sub001/internal/config"
	"github.com/kamal2602/thinkhub-sub001/internal/core"
)

// apiKey is one configured key and the caller name it stands for.
type apiKey struct {
	name string
	key  []byte
}

// parseAPIKeys reads "name:key" entries. A bare key is named by position.
func parseAPIKeys(entries []string) []apiKey {
	keys := make([]apiKey, 0, len(entries))
	for i, e := range entries {
		name, key, ok := strings.Cut(e, ":")
		if !ok {
			name, key = fmt.Sprintf("api-key-%d", i+1), e
		}
		if key == "" {
			continue
		}
		keys = append(keys, apiKey{name: name, key: []byte(key)})
	}
	return keys
}

// APIKeyAuth returns middleware that validates the X-API-Key header against
// configured keys and records the caller's name on the request context.
// If RequireAPIKey is false, all requests pass through.
// If RequireAPIKey is true but no keys are configured, all requests are rejected.
func APIKeyAuth(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	keys := parseAPIKeys(cfg.APIKeys)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RequireAPIKey {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-API-Key")
			if provided == "" {
				slog.Warn("auth: missing API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				writeJSONError(w, http.StatusUnauthorized, "missing API key", "AUTH_MISSING_KEY")
				return
			}

			name, ok := matchAPIKey(provided, keys)
			if !ok {
				slog.Warn("auth: invalid API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				writeJSONError(w, http.StatusForbidden, "invalid API key", "AUTH_INVALID_KEY")
				return
			}

			next.ServeHTTP(w, r.WithContext(core.ContextWithActor(r.Context(), name)))
		})
	}
}

// matchAPIKey compares provided against every key in constant time and
// returns the matching key's name. All keys are always compared.
func matchAPIKey(provided string, keys []apiKey) (string, bool) {
	var name string
	matched := 0
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(provided), k.key) == 1 {
			name = k.name
			matched = 1
		}
	}
	return name, matched == 1
}
