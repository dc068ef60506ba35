package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func serveCORS(origins []string, req *http.Request) (*httptest.ResponseRecorder, bool) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	w := httptest.NewRecorder()
	CORS(origins)(next).ServeHTTP(w, req)
	return w, called
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		origin      string
		wantAllow   string
		wantCredits string
	}{
		{name: "explicit origin", origins: []string{"https://app.example.com"}, origin: "https://app.example.com", wantAllow: "https://app.example.com", wantCredits: "true"},
		{name: "wildcard", origins: []string{"*"}, origin: "http://localhost:5173", wantAllow: "http://localhost:5173"},
		{name: "wildcard and explicit", origins: []string{"*", "https://app.example.com"}, origin: "https://app.example.com", wantAllow: "https://app.example.com", wantCredits: "true"},
		{name: "rejected origin", origins: []string{"https://app.example.com"}, origin: "https://evil.example.com"},
		{name: "no origin", origins: []string{"*"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w, called := serveCORS(tt.origins, req)

			assert.True(t, called)
			assert.Equal(t, tt.wantAllow, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantCredits, w.Header().Get("Access-Control-Allow-Credentials"))
			assert.Equal(t, "Origin", w.Header().Get("Vary"))
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/runs", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	w, called := serveCORS([]string{"https://app.example.com"}, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "GET, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
}
