package middleware

import (
	"net/http"
	"strings"
)

// SecurityHeadersConfig holds security headers configuration
type SecurityHeadersConfig struct {
	Env string
	// NoStorePrefixes lists path prefixes whose responses must never be
	// cached, typically the admin surface.
	NoStorePrefixes []string
}

const apiCSP = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'self'"

// SecurityHeaders returns a middleware that adds security headers to all responses
func SecurityHeaders(config SecurityHeadersConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", apiCSP)
			h.Set("Cross-Origin-Opener-Policy", "same-origin")
			h.Set("X-DNS-Prefetch-Control", "off")

			// HSTS only over HTTPS in production.
			if config.Env == "production" && (r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https") {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			for _, prefix := range config.NoStorePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					h.Set("Cache-Control", "no-store")
					h.Set("Pragma", "no-cache")
					break
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
