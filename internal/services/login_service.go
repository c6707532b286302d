package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/xiaomao8090/kazay-website/internal/auth"
	"github.com/xiaomao8090/kazay-website/internal/logfeed"
	"github.com/xiaomao8090/kazay-website/internal/models"
	"github.com/xiaomao8090/kazay-website/internal/session"
	"github.com/xiaomao8090/kazay-website/internal/tracker"
	pkglogger "github.com/xiaomao8090/kazay-website/pkg/logger"
)

const (
	codeMin = 100000
	codeMax = 999999
)

// AdminRegistry is the static admin set consulted by the login flow.
type AdminRegistry interface {
	Authenticate(username, password string) (models.Admin, bool)
	IsTrusted(username, ip string) bool
	AddTrustedIP(username, ip string) error
}

// RateLimitError reports a denial together with the remaining cooldown.
type RateLimitError struct {
	Remaining time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s, retry in %s", models.ErrRateLimited, e.Remaining.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error {
	return models.ErrRateLimited
}

// LoginConfig holds the thresholds of the login flow.
type LoginConfig struct {
	MaxFailures    int           // failures per IP inside FailureWindow before attempts are refused
	FailureWindow  time.Duration // sliding window for login failures
	AlertThreshold int           // failures inside the window that trigger an operator alert
	MailPolicy     tracker.Policy
	SessionTTL     time.Duration // shown in the verification email
}

// DefaultLoginConfig returns the production thresholds.
func DefaultLoginConfig() LoginConfig {
	return LoginConfig{
		MaxFailures:    5,
		FailureWindow:  15 * time.Minute,
		AlertThreshold: 2,
		MailPolicy:     tracker.Policy{Window: 10 * time.Minute, Max: 5, Cooldown: 30 * time.Minute},
		SessionTTL:     session.DefaultTTL,
	}
}

type LoginRequest struct {
	Username  string
	Password  string
	IP        string
	UserAgent string
}

type LoginResult struct {
	SessionID  string
	AdminEmail string
	// Trusted is set when the IP was already on the admin's allowlist; the
	// session is verified and no code was sent.
	Trusted bool
}

type ConfirmRequest struct {
	SessionID string
	// BoundSessionID is the id the transport layer stored when the code was
	// requested. Empty skips the binding check.
	BoundSessionID string
	Code           string
	IP             string
	UserAgent      string
}

type ConfirmResult struct {
	Username string
	Email    string
}

// LoginService runs the two-step admin login: credentials, then a mailed code.
type LoginService struct {
	registry AdminRegistry
	sessions *session.Store
	failures *tracker.Tracker
	mails    *tracker.Tracker
	mailer   Mailer
	notifier AlertNotifier
	security *pkglogger.SecurityLogger
	timing   *auth.TimingDelay
	config   LoginConfig
	logger   *slog.Logger
}

// NewLoginService creates a new LoginService. failures and mails are separate
// trackers so mail throttling never counts as a login failure.
func NewLoginService(
	registry AdminRegistry,
	sessions *session.Store,
	failures *tracker.Tracker,
	mails *tracker.Tracker,
	mailer Mailer,
	notifier AlertNotifier,
	security *pkglogger.SecurityLogger,
	timing *auth.TimingDelay,
	config LoginConfig,
	logger *slog.Logger,
) *LoginService {
	return &LoginService{
		registry: registry,
		sessions: sessions,
		failures: failures,
		mails:    mails,
		mailer:   mailer,
		notifier: notifier,
		security: security,
		timing:   timing,
		config:   config,
		logger:   logger,
	}
}

// RequestCode checks the credentials and, on success, mails a fresh code bound
// to a new session.
func (s *LoginService) RequestCode(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	decision := s.failures.CheckThreshold(req.IP, tracker.LoginPolicy(s.config.MaxFailures, s.config.FailureWindow))
	if !decision.Allowed {
		s.security.Log(ctx, pkglogger.SecurityEvent{
			Type:      pkglogger.EventLoginRateLimited,
			Message:   "admin login refused: too many failures",
			IP:        req.IP,
			UserAgent: req.UserAgent,
			Username:  req.Username,
			Metadata:  map[string]any{"remainingMinutes": decision.RemainingMinutes()},
		})
		return nil, &RateLimitError{Remaining: decision.Remaining}
	}

	start := time.Now()
	admin, ok := s.registry.Authenticate(strings.TrimSpace(req.Username), req.Password)
	if !ok {
		s.recordFailure(ctx, req.IP, req.UserAgent, req.Username, "invalid credentials")
		s.timing.WaitFrom(ctx, start, false)
		return nil, models.ErrInvalidCredentials
	}
	s.failures.Clear(req.IP)

	if s.registry.IsTrusted(admin.Username, req.IP) {
		return s.trustedEntry(ctx, admin, req)
	}

	if d := s.mails.Throttle(req.IP, s.config.MailPolicy); !d.Allowed {
		s.logger.Warn("verification mail throttled",
			slog.String("ip", req.IP),
			slog.Int("remaining_minutes", d.RemainingMinutes()))
		return nil, &RateLimitError{Remaining: d.Remaining}
	}

	code, err := generateCode()
	if err != nil {
		s.logger.Error("failed to generate verification code", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	id, err := session.NewID()
	if err != nil {
		s.logger.Error("failed to generate session id", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.sessions.Create(id, session.Session{
		Username:  admin.Username,
		Code:      code,
		IP:        req.IP,
		UserAgent: req.UserAgent,
		Email:     admin.Email,
	})

	if err := s.sendCode(ctx, admin.Email, code, req.IP); err != nil {
		if expErr := s.sessions.Expire(id); expErr != nil {
			s.logger.Warn("failed to expire undelivered session", slog.Any("error", expErr))
		}
		s.security.Log(ctx, pkglogger.SecurityEvent{
			Type:      pkglogger.EventCodeDelivery,
			Message:   "verification code delivery failed",
			IP:        req.IP,
			UserAgent: req.UserAgent,
			Username:  admin.Username,
			Level:     logfeed.LevelError,
			Reason:    err.Error(),
		})
		return nil, fmt.Errorf("%w: %v", models.ErrDeliveryFailed, err)
	}

	s.security.Log(ctx, pkglogger.SecurityEvent{
		Type:      pkglogger.EventCodeIssued,
		Message:   "verification code sent",
		IP:        req.IP,
		UserAgent: req.UserAgent,
		Username:  admin.Username,
		Level:     logfeed.LevelInfo,
		Metadata:  map[string]any{"email": pkglogger.SanitizedEmail(admin.Email)},
	})

	return &LoginResult{SessionID: id, AdminEmail: admin.Email}, nil
}

// ConfirmCode completes a login. Only a session in the issued state with a
// matching code succeeds; the client IP then joins the admin's allowlist.
func (s *LoginService) ConfirmCode(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	if req.BoundSessionID != "" && req.BoundSessionID != req.SessionID {
		s.recordFailure(ctx, req.IP, req.UserAgent, "", "session mismatch")
		return nil, models.ErrSessionMismatch
	}

	sess, err := s.sessions.Verify(req.SessionID, req.Code)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrCodeMismatch):
		s.recordCodeFailure(ctx, req, sess)
		return nil, models.ErrInvalidCode
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrInvalidTransition):
		s.recordFailure(ctx, req.IP, req.UserAgent, sess.Username, "session expired")
		return nil, models.ErrSessionExpired
	default:
		s.logger.Error("failed to verify session", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.registry.AddTrustedIP(sess.Username, req.IP); err != nil {
		s.logger.Error("failed to record trusted ip",
			slog.String("username", sess.Username),
			slog.Any("error", err))
	}
	s.failures.Clear(req.IP)

	s.security.Log(ctx, pkglogger.SecurityEvent{
		Type:      pkglogger.EventLoginSucceeded,
		Message:   "admin login verified",
		IP:        req.IP,
		UserAgent: req.UserAgent,
		Username:  sess.Username,
		Success:   true,
	})

	return &ConfirmResult{Username: sess.Username, Email: sess.Email}, nil
}

// ResendCode mails a new code for a pending session. The old code stays valid
// until the new one has been delivered.
func (s *LoginService) ResendCode(ctx context.Context, sessionID, ip, userAgent string) error {
	sess, err := s.sessions.Get(sessionID)
	if err != nil || sess.State != session.StateIssued {
		return models.ErrSessionExpired
	}

	if d := s.mails.Throttle(ip, s.config.MailPolicy); !d.Allowed {
		return &RateLimitError{Remaining: d.Remaining}
	}

	code, err := generateCode()
	if err != nil {
		s.logger.Error("failed to generate verification code", slog.Any("error", err))
		return models.ErrInternalServer
	}
	if err := s.sendCode(ctx, sess.Email, code, ip); err != nil {
		s.logger.Error("failed to resend verification code", slog.Any("error", err))
		return fmt.Errorf("%w: %v", models.ErrDeliveryFailed, err)
	}

	_, err = s.sessions.Update(sessionID, func(sess *session.Session) error {
		if sess.State != session.StateIssued {
			return session.ErrInvalidTransition
		}
		sess.Code = code
		return nil
	})
	if err != nil {
		return models.ErrSessionExpired
	}

	s.security.Log(ctx, pkglogger.SecurityEvent{
		Type:      pkglogger.EventCodeIssued,
		Message:   "verification code resent",
		IP:        ip,
		UserAgent: userAgent,
		Username:  sess.Username,
		Level:     logfeed.LevelInfo,
	})
	return nil
}

// Logout drops the login session. The admin credential is cleared by the
// caller.
func (s *LoginService) Logout(ctx context.Context, sessionID, username, ip string) {
	if sessionID != "" {
		s.sessions.Delete(sessionID)
	}
	s.security.Log(ctx, pkglogger.SecurityEvent{
		Type:     pkglogger.EventLogout,
		Message:  "admin logged out",
		IP:       ip,
		Username: username,
		Success:  true,
		Level:    logfeed.LevelInfo,
	})
}

func (s *LoginService) SessionStats() session.Stats {
	return s.sessions.Stats()
}

func (s *LoginService) trustedEntry(ctx context.Context, admin models.Admin, req LoginRequest) (*LoginResult, error) {
	code, err := generateCode()
	if err != nil {
		s.logger.Error("failed to generate verification code", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	id, err := session.NewID()
	if err != nil {
		s.logger.Error("failed to generate session id", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.sessions.Create(id, session.Session{
		Username:  admin.Username,
		Code:      code,
		IP:        req.IP,
		UserAgent: req.UserAgent,
		Email:     admin.Email,
	})
	if _, err := s.sessions.Verify(id, code); err != nil {
		s.logger.Error("failed to verify trusted session", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.security.Log(ctx, pkglogger.SecurityEvent{
		Type:      pkglogger.EventLoginSucceeded,
		Message:   "admin login from trusted IP",
		IP:        req.IP,
		UserAgent: req.UserAgent,
		Username:  admin.Username,
		Success:   true,
		Metadata:  map[string]any{"trusted": true},
	})

	return &LoginResult{SessionID: id, AdminEmail: admin.Email, Trusted: true}, nil
}

func (s *LoginService) sendCode(ctx context.Context, email, code, ip string) error {
	subject, body := VerificationEmail(code, s.config.SessionTTL, ip)
	return s.mailer.Send(ctx, email, subject, body)
}

func (s *LoginService) recordFailure(ctx context.Context, ip, userAgent, username, reason string) {
	count := s.failures.RecordFailure(ip)

	s.security.Log(ctx, pkglogger.SecurityEvent{
		Type:      pkglogger.EventLoginFailed,
		Message:   "admin login failed",
		IP:        ip,
		UserAgent: userAgent,
		Username:  username,
		Reason:    reason,
		Metadata:  map[string]any{"failures": count},
	})

	if count >= s.config.AlertThreshold {
		s.security.Log(ctx, pkglogger.SecurityEvent{
			Type:     pkglogger.EventLoginAlert,
			Message:  "repeated admin login failures",
			IP:       ip,
			Username: username,
			Level:    logfeed.LevelError,
			Metadata: map[string]any{"failures": count},
		})
		s.notifier.Alert(ctx, "Repeated admin login failures", map[string]string{
			"ip":         ip,
			"username":   username,
			"reason":     reason,
			"failures":   strconv.Itoa(count),
			"user_agent": userAgent,
		})
	}
}

func (s *LoginService) recordCodeFailure(ctx context.Context, req ConfirmRequest, sess session.Session) {
	s.recordFailure(ctx, req.IP, req.UserAgent, sess.Username, "invalid code")
	if sess.State == session.StateExpired {
		s.logger.Warn("login session locked after too many wrong codes",
			slog.String("username", sess.Username),
			slog.String("ip", req.IP),
			slog.String("last_code", pkglogger.MaskCode(req.Code)))
	}
}

// generateCode returns a uniformly random six-digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+codeMin, 10), nil
}
