// Package auth provides static API key authentication for the HTTP API.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// APIKeyHeader is the header carrying the API key.
const APIKeyHeader = "X-API-Key"

// APIKey validates the X-API-Key header (or a Bearer token) against a
// single configured key. Paths in skip are served without a key.
type APIKey struct {
	key  []byte
	skip map[string]bool
}

// NewAPIKey creates an APIKey check. An empty key disables authentication.
func NewAPIKey(key string, skipPaths ...string) *APIKey {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return &APIKey{key: []byte(key), skip: skip}
}

// Enabled reports whether a key is configured.
func (a *APIKey) Enabled() bool {
	return len(a.key) > 0
}

// Middleware returns HTTP middleware enforcing the key.
func (a *APIKey) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skip[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		key := extractAPIKey(r)
		if key == "" {
			unauthorized(w, "missing API key")
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), a.key) != 1 {
			unauthorized(w, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractAPIKey reads the key from X-API-Key, falling back to a Bearer token.
func extractAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="rag"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
