package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/xiaomao8090/kazay-website/internal/auth"
	"github.com/xiaomao8090/kazay-website/internal/models"
	"github.com/xiaomao8090/kazay-website/internal/services"
	pkghttp "github.com/xiaomao8090/kazay-website/pkg/http"
	pkglogger "github.com/xiaomao8090/kazay-website/pkg/logger"
)

// LoginServiceInterface is the two-step login flow as seen by the handler.
type LoginServiceInterface interface {
	RequestCode(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error)
	ConfirmCode(ctx context.Context, req services.ConfirmRequest) (*services.ConfirmResult, error)
	ResendCode(ctx context.Context, sessionID, ip, userAgent string) error
	Logout(ctx context.Context, sessionID, username, ip string)
}

// TokenIssuer mints and checks the admin credential.
type TokenIssuer interface {
	GenerateAdminToken(username, email string) (string, error)
	ValidateToken(token string) (*models.AdminClaims, error)
	Expiry() time.Duration
}

// AuthHandler serves the public login endpoints under /admin.
type AuthHandler struct {
	service    LoginServiceInterface
	tokens     TokenIssuer
	cookies    auth.CookieConfig
	sessionTTL time.Duration
	ipConfig   *pkghttp.IPConfig
	logger     *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service LoginServiceInterface, tokens TokenIssuer, cookies auth.CookieConfig, sessionTTL time.Duration, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:    service,
		tokens:     tokens,
		cookies:    cookies,
		sessionTTL: sessionTTL,
		ipConfig:   ipConfig,
		logger:     logger,
	}
}

// LoginRequest represents the request body for the first login step
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=256"`
}

// VerifyCodeRequest represents the request body for the second login step.
// The code is compared verbatim.
type VerifyCodeRequest struct {
	SessionID string `json:"session_id" validate:"required,max=128"`
	Code      string `json:"code" validate:"required,max=32"`
}

// LoginResponse is returned by a successful first step.
type LoginResponse struct {
	Success      bool   `json:"success"`
	CodeRequired bool   `json:"code_required"`
	SessionID    string `json:"session_id,omitempty"`
	Email        string `json:"email,omitempty"`
	Username     string `json:"username,omitempty"`
}

// VerifyCodeResponse is returned once the admin credential cookie is set.
type VerifyCodeResponse struct {
	Success   bool      `json:"success"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login handles POST /admin/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	req.Username = strings.TrimSpace(req.Username)

	result, err := h.service.RequestCode(r.Context(), services.LoginRequest{
		Username:  req.Username,
		Password:  req.Password,
		IP:        pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeLoginError(w, err)
		return
	}

	if result.Trusted {
		if _, ok := h.grantAdmin(w, req.Username, result.AdminEmail); !ok {
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
			Success:  true,
			Username: req.Username,
		})
		return
	}

	auth.SetLoginSessionCookie(w, result.SessionID, h.sessionTTL, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		Success:      true,
		CodeRequired: true,
		SessionID:    result.SessionID,
		Email:        pkglogger.SanitizedEmail(result.AdminEmail),
	})
}

// VerifyCode handles POST /admin/verify-code
func (h *AuthHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req VerifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.ConfirmCode(r.Context(), services.ConfirmRequest{
		SessionID:      req.SessionID,
		BoundSessionID: auth.GetCookieValue(r, auth.LoginSessionCookie),
		Code:           req.Code,
		IP:             pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:      r.UserAgent(),
	})
	if err != nil {
		writeLoginError(w, err)
		return
	}

	expiresAt, ok := h.grantAdmin(w, result.Username, result.Email)
	if !ok {
		return
	}
	auth.ClearLoginSessionCookie(w, h.cookies)

	pkghttp.WriteJSON(w, http.StatusOK, VerifyCodeResponse{
		Success:   true,
		Username:  result.Username,
		ExpiresAt: expiresAt,
	})
}

// SendCode handles POST /admin/send-code. It resends a code for the session
// bound to this browser.
func (h *AuthHandler) SendCode(w http.ResponseWriter, r *http.Request) {
	sessionID := auth.GetCookieValue(r, auth.LoginSessionCookie)
	if sessionID == "" {
		writeLoginError(w, models.ErrSessionExpired)
		return
	}

	err := h.service.ResendCode(r.Context(), sessionID, pkghttp.ExtractClientIP(r, h.ipConfig), r.UserAgent())
	if err != nil {
		writeLoginError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Logout handles POST /admin/logout. It always succeeds and clears both
// cookies.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var username string
	if token := auth.GetCookieValue(r, auth.AdminTokenCookie); token != "" {
		if claims, err := h.tokens.ValidateToken(token); err == nil {
			username = claims.Username
		}
	}

	h.service.Logout(r.Context(),
		auth.GetCookieValue(r, auth.LoginSessionCookie),
		username,
		pkghttp.ExtractClientIP(r, h.ipConfig))

	auth.ClearAdminTokenCookie(w, h.cookies)
	auth.ClearLoginSessionCookie(w, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AuthHandler) grantAdmin(w http.ResponseWriter, username, email string) (time.Time, bool) {
	token, err := h.tokens.GenerateAdminToken(username, email)
	if err != nil {
		h.logger.Error("failed to issue admin token", slog.String("username", username), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return time.Time{}, false
	}
	auth.SetAdminTokenCookie(w, token, h.tokens.Expiry(), h.cookies)
	return time.Now().Add(h.tokens.Expiry()), true
}

// writeLoginError maps login-flow failures to stable error codes. Credential
// failures never say which half was wrong.
func writeLoginError(w http.ResponseWriter, err error) {
	var rateErr *services.RateLimitError
	switch {
	case errors.As(err, &rateErr):
		pkghttp.WriteRateLimited(w, rateErr.Remaining)
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeInvalidCredentials, "invalid username or password")
	case errors.Is(err, models.ErrDeliveryFailed):
		pkghttp.WriteError(w, http.StatusBadGateway, pkghttp.CodeDeliveryFailed, "verification code could not be sent, try again later")
	case errors.Is(err, models.ErrSessionMismatch):
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeSessionMismatch, "login session does not match, sign in again")
	case errors.Is(err, models.ErrSessionExpired):
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeSessionExpired, "login session expired, sign in again")
	case errors.Is(err, models.ErrInvalidCode):
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeInvalidCode, "invalid verification code")
	case errors.Is(err, models.ErrRateLimited):
		pkghttp.WriteTooManyRequests(w, "too many attempts")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
