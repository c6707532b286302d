package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	pkghttp "github.com/xiaomao8090/kazay-website/pkg/http"
)

func limitedHandler(config RateLimitConfig) http.Handler {
	return RateLimitByIP(config, &pkghttp.IPConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func hit(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/admin/login", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimitByIP_Returns429AfterLimit(t *testing.T) {
	h := limitedHandler(RateLimitConfig{Requests: 3, Window: time.Minute})

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, hit(h, "192.0.2.1:1000").Code, "request %d", i+1)
	}

	w := hit(h, "192.0.2.1:1000")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
}

func TestRateLimitByIP_IsolatesAddresses(t *testing.T) {
	h := limitedHandler(RateLimitConfig{Requests: 1, Window: time.Minute})

	assert.Equal(t, http.StatusOK, hit(h, "192.0.2.1:1000").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "192.0.2.1:1001").Code, "port must not matter")
	assert.Equal(t, http.StatusOK, hit(h, "192.0.2.2:1000").Code)
}

func TestRateLimitByIP_SpoofedHeaderDoesNotEscapeLimit(t *testing.T) {
	h := limitedHandler(RateLimitConfig{Requests: 1, Window: time.Minute})

	assert.Equal(t, http.StatusOK, hit(h, "192.0.2.1:1000").Code)

	req := httptest.NewRequest("POST", "/admin/login", nil)
	req.RemoteAddr = "192.0.2.1:1000"
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestDefaultAuthRateLimit(t *testing.T) {
	config := DefaultAuthRateLimit()
	assert.Equal(t, 20, config.Requests)
	assert.Equal(t, time.Minute, config.Window)
}
