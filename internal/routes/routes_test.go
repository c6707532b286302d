package routes_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaomao8090/kazay-website/internal/auth"
	"github.com/xiaomao8090/kazay-website/internal/handlers"
	"github.com/xiaomao8090/kazay-website/internal/logfeed"
	"github.com/xiaomao8090/kazay-website/internal/middleware"
	"github.com/xiaomao8090/kazay-website/internal/routes"
	"github.com/xiaomao8090/kazay-website/internal/services"
	"github.com/xiaomao8090/kazay-website/internal/session"
	pkghttp "github.com/xiaomao8090/kazay-website/pkg/http"
	pkglogger "github.com/xiaomao8090/kazay-website/pkg/logger"
)

type noStats struct{}

func (noStats) SessionStats() session.Stats { return session.Stats{} }

type deniedCounter struct{ paths []string }

func (d *deniedCounter) UnauthorizedAccess(_ context.Context, ip, path, userAgent string) {
	d.paths = append(d.paths, path)
}

func newRouter(t *testing.T, limit int) (chi.Router, *auth.TokenManager, *deniedCounter) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ipConfig := &pkghttp.IPConfig{}
	tm := auth.NewTokenManager("routes-test-secret-0123456789abcdef", time.Hour)

	login := &handlers.MockLoginService{
		RequestCodeFunc: func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
			return &services.LoginResult{SessionID: "s1", AdminEmail: "admin@example.com"}, nil
		},
	}
	authHandler := handlers.NewAuthHandler(login, tm, auth.CookieConfig{}, 30*time.Minute, ipConfig, logger)
	adminHandler := handlers.NewAdminHandler(
		noStats{},
		&handlers.MockBlocklistManager{},
		&handlers.MockLogFeed{Current: logfeed.DefaultSettings()},
		&handlers.MockAutoBlocker{},
		&services.MockMailer{},
		pkglogger.NewSecurityLogger(logger, nil),
		ipConfig, logger,
	)

	denied := &deniedCounter{}
	router := chi.NewRouter()
	routes.RegisterRoutes(router, authHandler, adminHandler, tm, ipConfig, denied,
		middleware.RateLimitConfig{Requests: limit, Window: time.Minute})
	return router, tm, denied
}

func TestAdminAPI_RequiresCredential(t *testing.T) {
	router, _, denied := newRouter(t, 100)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/admin/api/sessions/stats", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, []string{"/admin/api/sessions/stats"}, denied.paths)
}

func TestAdminAPI_AcceptsCookieAndBearer(t *testing.T) {
	router, tm, denied := newRouter(t, 100)
	token, err := tm.GenerateAdminToken("admin", "admin@example.com")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/admin/api/blocklist", nil)
	req.AddCookie(&http.Cookie{Name: auth.AdminTokenCookie, Value: token})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("GET", "/admin/api/logs/analyze", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, "static segment wins over {stream}")

	assert.Empty(t, denied.paths)
}

func TestLoginRoutes_RateLimited(t *testing.T) {
	router, _, _ := newRouter(t, 2)

	post := func() int {
		req := httptest.NewRequest("POST", "/admin/login", strings.NewReader(`{"username":"admin","password":"pw"}`))
		req.RemoteAddr = "192.0.2.50:1000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, post())
	assert.Equal(t, http.StatusOK, post())
	assert.Equal(t, http.StatusTooManyRequests, post())
}

func TestLogout_IsPublic(t *testing.T) {
	router, _, denied := newRouter(t, 100)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/admin/logout", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, denied.paths)
}
