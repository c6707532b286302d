package logger

import (
	"context"
	"log/slog"

	"github.com/xiaomao8090/kazay-website/internal/logfeed"
)

// Security event types written to the advanced feed.
const (
	EventLoginFailed        = "login_failed"
	EventLoginAlert         = "login_alert"
	EventLoginRateLimited   = "login_rate_limited"
	EventCodeIssued         = "code_issued"
	EventCodeFailed         = "code_failed"
	EventCodeDelivery       = "code_delivery_failed"
	EventLoginSucceeded     = "login_succeeded"
	EventLogout             = "logout"
	EventUnauthorizedAccess = "unauthorized_access"
	EventBlockedRequest     = "blocked_request"
	EventIPBlocked          = "ip_blocked"
	EventIPUnblocked        = "ip_unblocked"
)

// SecurityEvent is one security-relevant occurrence. IP is always recorded
// under details.ip so the auto-block sweep can group by it. Success marks an
// authenticated admin's own activity, which the sweep does not count.
type SecurityEvent struct {
	Type      string
	Message   string
	IP        string
	UserAgent string
	Username  string
	Success   bool
	Reason    string
	Level     logfeed.Level
	Metadata  map[string]any
}

// SecuritySink is the part of the feed that stores security records.
type SecuritySink interface {
	Security(level logfeed.Level, message string, details map[string]any)
}

// SecurityLogger writes security events to the process log and to the
// advanced feed.
type SecurityLogger struct {
	logger *slog.Logger
	sink   SecuritySink
}

// NewSecurityLogger creates a security logger. sink may be nil.
func NewSecurityLogger(logger *slog.Logger, sink SecuritySink) *SecurityLogger {
	return &SecurityLogger{
		logger: logger,
		sink:   sink,
	}
}

// Log records event.
func (sl *SecurityLogger) Log(ctx context.Context, event SecurityEvent) {
	level := event.Level
	if level == "" {
		level = logfeed.LevelWarning
		if event.Success {
			level = logfeed.LevelSuccess
		}
	}

	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("event_type", event.Type),
		slog.Bool("success", event.Success),
	}
	details := map[string]any{
		"event": event.Type,
		"ip":    event.IP,
	}

	if event.Success {
		details["success"] = true
	}
	if event.IP != "" {
		attrs = append(attrs, slog.String("ip_address", event.IP))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
		details["userAgent"] = event.UserAgent
	}
	if event.Username != "" {
		attrs = append(attrs, slog.String("username", event.Username))
		details["username"] = event.Username
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
		details["reason"] = event.Reason
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.Any(k, v))
		details[k] = v
	}

	sl.logger.LogAttrs(ctx, slogLevel(level), event.Message, attrs...)
	if sl.sink != nil {
		sl.sink.Security(level, event.Message, details)
	}
}

// UnauthorizedAccess records a request to an admin route without a valid
// credential.
func (sl *SecurityLogger) UnauthorizedAccess(ctx context.Context, ip, path, userAgent string) {
	sl.Log(ctx, SecurityEvent{
		Type:      EventUnauthorizedAccess,
		Message:   "unauthorized admin access attempt",
		IP:        ip,
		UserAgent: userAgent,
		Metadata:  map[string]any{"path": path},
	})
}

// BlockedRequest records a request refused by the IP gate.
func (sl *SecurityLogger) BlockedRequest(ctx context.Context, ip, path, userAgent string) {
	sl.Log(ctx, SecurityEvent{
		Type:      EventBlockedRequest,
		Message:   "request from blocked IP refused",
		IP:        ip,
		UserAgent: userAgent,
		Metadata:  map[string]any{"path": path},
	})
}

func slogLevel(level logfeed.Level) slog.Level {
	switch level {
	case logfeed.LevelError:
		return slog.LevelError
	case logfeed.LevelWarning:
		return slog.LevelWarn
	case logfeed.LevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
