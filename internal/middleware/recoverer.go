package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	pkghttp "github.com/xiaomao8090/kazay-website/pkg/http"
)

// PanicNotifier is told about handler panics.
type PanicNotifier interface {
	Alert(ctx context.Context, subject string, fields map[string]string)
}

// Recoverer alerts the operators about a handler panic and then hands it to
// chi's Recoverer, which logs the stack and writes the 500.
func Recoverer(notifier PanicNotifier, ipConfig *pkghttp.IPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		alerting := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}
				if rvr != http.ErrAbortHandler && notifier != nil {
					notifier.Alert(context.WithoutCancel(r.Context()), "unhandled panic in request", map[string]string{
						"method":     r.Method,
						"path":       r.URL.Path,
						"ip":         pkghttp.ExtractClientIP(r, ipConfig),
						"request_id": middleware.GetReqID(r.Context()),
						"panic":      fmt.Sprint(rvr),
					})
				}
				panic(rvr)
			}()
			next.ServeHTTP(w, r)
		})
		return middleware.Recoverer(alerting)
	}
}
