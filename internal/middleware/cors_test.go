package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func corsHandler(origins ...string) http.Handler {
	return CORS(DefaultCORSConfig(origins))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCORS_AllowedOrigin(t *testing.T) {
	req := httptest.NewRequest("GET", "/admin/api/stats", nil)
	req.Header.Set("Origin", "https://admin.kazay.example")
	w := httptest.NewRecorder()
	corsHandler("https://admin.kazay.example").ServeHTTP(w, req)

	assert.Equal(t, "https://admin.kazay.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "3600", w.Header().Get("Access-Control-Max-Age"))
}

func TestCORS_UnknownOriginGetsNothing(t *testing.T) {
	req := httptest.NewRequest("GET", "/admin/api/stats", nil)
	req.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()
	corsHandler("https://admin.kazay.example").ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Preflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/admin/login", nil)
	req.Header.Set("Origin", "https://admin.kazay.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	corsHandler("https://admin.kazay.example").ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}
