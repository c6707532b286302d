package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	pkghttp "github.com/xiaomao8090/kazay-website/pkg/http"
	pkglogger "github.com/xiaomao8090/kazay-website/pkg/logger"
)

// AccessRecorder receives one record per request for the access log stream.
type AccessRecorder interface {
	Access(message string, details map[string]any)
}

// SecureLogger logs every request with sensitive query strings redacted. When
// recorder is non-nil the request is also written to the access log.
func SecureLogger(logger *slog.Logger, recorder AccessRecorder, ipConfig *pkghttp.IPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			status := wrapped.Status()
			if status == 0 {
				status = http.StatusOK
			}

			path := r.URL.Path
			if pkglogger.SensitiveQuery(r.URL.RawQuery) {
				path += "?[REDACTED]"
			} else if r.URL.RawQuery != "" {
				path += "?" + r.URL.RawQuery
			}
			ip := pkghttp.ExtractClientIP(r, ipConfig)

			logger.LogAttrs(context.Background(), slog.LevelInfo, "http_request",
				slog.String("method", r.Method),
				slog.String("path", path),
				slog.Int("status", status),
				slog.Int64("bytes", int64(wrapped.BytesWritten())),
				slog.String("duration", duration.String()),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("ip", ip),
			)

			if recorder != nil {
				recorder.Access(r.Method+" "+r.URL.Path, map[string]any{
					"ip":         ip,
					"method":     r.Method,
					"path":       path,
					"status":     status,
					"durationMs": duration.Milliseconds(),
					"userAgent":  r.UserAgent(),
				})
			}
		})
	}
}
