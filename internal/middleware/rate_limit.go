package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	pkghttp "github.com/xiaomao8090/kazay-website/pkg/http"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// DefaultAuthRateLimit caps the public login endpoints at 20 requests per
// minute per address. The failure tracker does the real gating; this only
// absorbs floods.
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{
		Requests: 20,
		Window:   time.Minute,
	}
}

// RateLimitByIP limits requests per client address. The address comes from
// ExtractClientIP so forwarded headers are only honoured from trusted proxies.
func RateLimitByIP(config RateLimitConfig, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	window := config.Window
	if window <= 0 {
		window = time.Minute
	}

	return httprate.Limit(
		config.Requests,
		window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "rate limit exceeded")
		}),
	)
}
