package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/xiaomao8090/kazay-website/internal/auth"
	"github.com/xiaomao8090/kazay-website/internal/handlers"
	"github.com/xiaomao8090/kazay-website/internal/middleware"
	pkghttp "github.com/xiaomao8090/kazay-website/pkg/http"
)

// RegisterRoutes registers the login flow and the admin API under /admin.
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
	ipConfig *pkghttp.IPConfig,
	denied auth.DeniedRecorder,
	rateLimitConfig middleware.RateLimitConfig,
) {
	router.Route("/admin", func(r chi.Router) {
		// Public login flow. The failure tracker does the real gating; the
		// limiter only absorbs floods.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(rateLimitConfig, ipConfig))
			r.Post("/login", authHandler.Login)
			r.Post("/verify-code", authHandler.VerifyCode)
			r.Post("/send-code", authHandler.SendCode)
		})
		r.Post("/logout", authHandler.Logout)

		r.Route("/api", func(r chi.Router) {
			r.Use(auth.RequireAdmin(tokenManager, ipConfig, denied))

			r.Get("/sessions/stats", adminHandler.GetSessionStats)

			r.Get("/blocklist", adminHandler.ListBlocked)
			r.Post("/blocklist", adminHandler.BlockIP)
			r.Delete("/blocklist/{ip}", adminHandler.UnblockIP)

			r.Get("/logs/analyze", adminHandler.AnalyzeLogs)
			r.Get("/logs/analysis/download", adminHandler.DownloadAnalysis)
			r.Post("/logs/autoblock", adminHandler.RunAutoBlock)
			r.Get("/logs/{stream}", adminHandler.GetLogs)
			r.Post("/logs/{stream}/clear", adminHandler.ClearLogs)
			r.Get("/logs/{stream}/download", adminHandler.DownloadLogs)

			r.Get("/settings/log", adminHandler.GetLogSettings)
			r.Post("/settings/log", adminHandler.UpdateLogSettings)
			r.Post("/settings/test-email", adminHandler.SendTestEmail)
		})
	})
}
