package middleware

import (
	"context"
	"net/http"

	pkghttp "github.com/xiaomao8090/kazay-website/pkg/http"
)

// BlockChecker answers whether an address is currently blocked.
type BlockChecker interface {
	IsBlocked(ip string) bool
}

// BlockedRecorder is told about every rejected request.
type BlockedRecorder interface {
	BlockedRequest(ctx context.Context, ip, path, userAgent string)
}

// IPGate rejects requests from blocked addresses with 403 before any other
// handler runs. The response does not say why.
func IPGate(list BlockChecker, ipConfig *pkghttp.IPConfig, recorder BlockedRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := pkghttp.ExtractClientIP(r, ipConfig)
			if !list.IsBlocked(ip) {
				next.ServeHTTP(w, r)
				return
			}

			if recorder != nil {
				recorder.BlockedRequest(r.Context(), ip, r.URL.Path, r.UserAgent())
			}
			pkghttp.WriteForbidden(w, "access denied")
		})
	}
}
