package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKey_Middleware(t *testing.T) {
	h := NewAPIKey("s3cret", "/healthz").Middleware(okHandler())

	tests := []struct {
		name    string
		method  string
		path    string
		headers map[string]string
		status  int
	}{
		{name: "valid header", method: http.MethodPost, path: "/query", headers: map[string]string{"X-API-Key": "s3cret"}, status: http.StatusOK},
		{name: "valid bearer", method: http.MethodPost, path: "/query", headers: map[string]string{"Authorization": "Bearer s3cret"}, status: http.StatusOK},
		{name: "missing key", method: http.MethodPost, path: "/query", status: http.StatusUnauthorized},
		{name: "wrong key", method: http.MethodPost, path: "/query", headers: map[string]string{"X-API-Key": "nope"}, status: http.StatusUnauthorized},
		{name: "skipped path", method: http.MethodGet, path: "/healthz", status: http.StatusOK},
		{name: "preflight", method: http.MethodOptions, path: "/query", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), `"detail"`)
			}
		})
	}
}

func TestAPIKey_Disabled(t *testing.T) {
	a := NewAPIKey("")
	assert.False(t, a.Enabled())

	rec := httptest.NewRecorder()
	a.Middleware(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/query", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
