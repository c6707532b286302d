package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/xiaomao8090/kazay-website/internal/models"
	pkghttp "github.com/xiaomao8090/kazay-website/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

// AdminContextKey is the key for storing admin claims in context
const AdminContextKey contextKey = "admin"

// DeniedRecorder receives a note for every request rejected for lacking a
// valid admin credential.
type DeniedRecorder interface {
	UnauthorizedAccess(ctx context.Context, ip, path, userAgent string)
}

// RequireAdmin validates the admin credential from the admin_token cookie or a
// Bearer header and injects the claims into the request context.
func RequireAdmin(tm *TokenManager, ipConfig *pkghttp.IPConfig, recorder DeniedRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := tokenFromRequest(r)
			if tokenString == "" {
				deny(w, r, ipConfig, recorder, "admin login required")
				return
			}

			claims, err := tm.ValidateToken(tokenString)
			if err != nil {
				deny(w, r, ipConfig, recorder, "invalid or expired admin session")
				return
			}

			ctx := context.WithValue(r.Context(), AdminContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAdminFromContext extracts admin claims from request context
func GetAdminFromContext(r *http.Request) *models.AdminClaims {
	claims, ok := r.Context().Value(AdminContextKey).(*models.AdminClaims)
	if !ok {
		return nil
	}
	return claims
}

// tokenFromRequest prefers the cookie set by the login flow and falls back to
// an Authorization header for scripted clients.
func tokenFromRequest(r *http.Request) string {
	if token := GetCookieValue(r, AdminTokenCookie); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func deny(w http.ResponseWriter, r *http.Request, ipConfig *pkghttp.IPConfig, recorder DeniedRecorder, message string) {
	if recorder != nil {
		ip := pkghttp.ExtractClientIP(r, ipConfig)
		recorder.UnauthorizedAccess(r.Context(), ip, r.URL.Path, r.UserAgent())
	}
	pkghttp.WriteUnauthorized(w, message)
}
