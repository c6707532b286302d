package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xiaomao8090/kazay-website/internal/auth"
	"github.com/xiaomao8090/kazay-website/internal/blocklist"
	"github.com/xiaomao8090/kazay-website/internal/logfeed"
	"github.com/xiaomao8090/kazay-website/internal/services"
	"github.com/xiaomao8090/kazay-website/internal/session"
	pkghttp "github.com/xiaomao8090/kazay-website/pkg/http"
	pkglogger "github.com/xiaomao8090/kazay-website/pkg/logger"
)

// SessionStatter exposes login session counts.
type SessionStatter interface {
	SessionStats() session.Stats
}

// BlocklistManager is the operator view of the blocklist.
type BlocklistManager interface {
	List() blocklist.Document
	Block(ctx context.Context, ip, reason string, ttl time.Duration) (blocklist.Entry, error)
	Unblock(ctx context.Context, ip string) error
}

// LogFeed is the subset of the log feed the dashboard reads and maintains.
type LogFeed interface {
	Query(advanced bool, filter logfeed.Filter) ([]logfeed.Record, error)
	Clear(advanced bool, date string) (int, error)
	WriteZip(w io.Writer, advanced bool) error
	Analyze() (*logfeed.Analysis, error)
	Settings() logfeed.Settings
	UpdateSettings(s logfeed.Settings) error
	System(level logfeed.Level, message string, details map[string]any)
}

// AutoBlocker runs an on-demand auto-block sweep.
type AutoBlocker interface {
	Sweep(ctx context.Context) ([]string, error)
}

// AdminHandler serves the authenticated dashboard API.
type AdminHandler struct {
	sessions  SessionStatter
	blocks    BlocklistManager
	feed      LogFeed
	autoblock AutoBlocker
	mailer    services.Mailer
	security  *pkglogger.SecurityLogger
	ipConfig  *pkghttp.IPConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	sessions SessionStatter,
	blocks BlocklistManager,
	feed LogFeed,
	autoblock AutoBlocker,
	mailer services.Mailer,
	security *pkglogger.SecurityLogger,
	ipConfig *pkghttp.IPConfig,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		sessions:  sessions,
		blocks:    blocks,
		feed:      feed,
		autoblock: autoblock,
		mailer:    mailer,
		security:  security,
		ipConfig:  ipConfig,
		logger:    logger,
		now:       time.Now,
	}
}

type dataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

func writeData(w http.ResponseWriter, data any) {
	pkghttp.WriteJSON(w, http.StatusOK, dataResponse{Success: true, Data: data})
}

// BlockRequest is the body of POST /admin/api/blocklist.
type BlockRequest struct {
	IP              string `json:"ip" validate:"required,ip"`
	Reason          string `json:"reason" validate:"max=200"`
	DurationMinutes int    `json:"duration_minutes" validate:"gte=0,lte=525600"`
}

// GetSessionStats handles GET /admin/api/sessions/stats
func (h *AdminHandler) GetSessionStats(w http.ResponseWriter, r *http.Request) {
	writeData(w, h.sessions.SessionStats())
}

// ListBlocked handles GET /admin/api/blocklist
func (h *AdminHandler) ListBlocked(w http.ResponseWriter, r *http.Request) {
	writeData(w, h.blocks.List())
}

// BlockIP handles POST /admin/api/blocklist
func (h *AdminHandler) BlockIP(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "manual block"
	}

	entry, err := h.blocks.Block(r.Context(), req.IP, req.Reason, time.Duration(req.DurationMinutes)*time.Minute)
	switch {
	case errors.Is(err, blocklist.ErrAlreadyBlocked):
		pkghttp.WriteConflict(w, "IP is already blocked")
		return
	case errors.Is(err, blocklist.ErrInvalidIP):
		pkghttp.WriteBadRequest(w, "invalid IP address")
		return
	case err != nil:
		h.logger.Error("failed to block ip", slog.String("ip", req.IP), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to block IP")
		return
	}

	h.security.Log(r.Context(), pkglogger.SecurityEvent{
		Type:     pkglogger.EventIPBlocked,
		Message:  "admin blocked IP",
		IP:       pkghttp.ExtractClientIP(r, h.ipConfig),
		Username: h.adminName(r),
		Reason:   req.Reason,
		Success:  true,
		Level:    logfeed.LevelInfo,
		Metadata: map[string]any{"target": entry.IP, "expiresAt": entry.ExpiresAt},
	})
	pkghttp.WriteJSON(w, http.StatusCreated, dataResponse{Success: true, Data: entry})
}

// UnblockIP handles DELETE /admin/api/blocklist/{ip}
func (h *AdminHandler) UnblockIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if !ValidateIP(ip) {
		pkghttp.WriteBadRequest(w, "invalid IP address")
		return
	}

	if err := h.blocks.Unblock(r.Context(), ip); err != nil {
		if errors.Is(err, blocklist.ErrNotBlocked) {
			pkghttp.WriteNotFound(w, "IP is not temporarily blocked")
			return
		}
		h.logger.Error("failed to unblock ip", slog.String("ip", ip), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to unblock IP")
		return
	}

	h.security.Log(r.Context(), pkglogger.SecurityEvent{
		Type:     pkglogger.EventIPUnblocked,
		Message:  "admin unblocked IP",
		IP:       pkghttp.ExtractClientIP(r, h.ipConfig),
		Username: h.adminName(r),
		Success:  true,
		Level:    logfeed.LevelInfo,
		Metadata: map[string]any{"target": normalizedIP(ip)},
	})
	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// GetLogs handles GET /admin/api/logs/{stream}
// Query params: date, startDate, endDate, level, type, search.
func (h *AdminHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	advanced, ok := streamParam(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	records, err := h.feed.Query(advanced, logfeed.Filter{
		Date:      q.Get("date"),
		StartDate: q.Get("startDate"),
		EndDate:   q.Get("endDate"),
		Level:     q.Get("level"),
		Type:      q.Get("type"),
		Search:    q.Get("search"),
	})
	if err != nil {
		if errors.Is(err, logfeed.ErrInvalidFilter) {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
		h.logger.Error("failed to query logs", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to read logs")
		return
	}
	if records == nil {
		records = []logfeed.Record{}
	}
	writeData(w, records)
}

// ClearLogs handles POST /admin/api/logs/{stream}/clear
// Optional query param ?date=YYYY-MM-DD limits the deletion to one day.
func (h *AdminHandler) ClearLogs(w http.ResponseWriter, r *http.Request) {
	advanced, ok := streamParam(w, r)
	if !ok {
		return
	}

	date := r.URL.Query().Get("date")
	removed, err := h.feed.Clear(advanced, date)
	if err != nil {
		if errors.Is(err, logfeed.ErrInvalidFilter) {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
		h.logger.Error("failed to clear logs", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to clear logs")
		return
	}

	h.feed.System(logfeed.LevelInfo, "admin cleared logs", map[string]any{
		"admin":   h.adminName(r),
		"stream":  chi.URLParam(r, "stream"),
		"date":    date,
		"removed": removed,
	})
	writeData(w, map[string]int{"removed": removed})
}

// DownloadLogs handles GET /admin/api/logs/{stream}/download
// The archive is built in memory so a failure can still be reported as JSON.
func (h *AdminHandler) DownloadLogs(w http.ResponseWriter, r *http.Request) {
	advanced, ok := streamParam(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := h.feed.WriteZip(&buf, advanced); err != nil {
		h.logger.Error("failed to build log archive", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to download logs")
		return
	}

	name := fmt.Sprintf("%s-logs-%s.zip", chi.URLParam(r, "stream"), h.now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)

	h.feed.System(logfeed.LevelInfo, "admin downloaded logs", map[string]any{
		"admin":  h.adminName(r),
		"stream": chi.URLParam(r, "stream"),
	})
}

// AnalyzeLogs handles GET /admin/api/logs/analyze
func (h *AdminHandler) AnalyzeLogs(w http.ResponseWriter, r *http.Request) {
	analysis, err := h.feed.Analyze()
	if err != nil {
		h.logger.Error("failed to analyze logs", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to analyze logs")
		return
	}
	writeData(w, analysis)
}

// DownloadAnalysis handles GET /admin/api/logs/analysis/download
func (h *AdminHandler) DownloadAnalysis(w http.ResponseWriter, r *http.Request) {
	analysis, err := h.feed.Analyze()
	if err != nil {
		h.logger.Error("failed to analyze logs", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to analyze logs")
		return
	}

	var buf bytes.Buffer
	if err := logfeed.WriteReport(&buf, analysis); err != nil {
		pkghttp.WriteInternalError(w, "Failed to render report")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="log-analysis.txt"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)

	h.feed.System(logfeed.LevelInfo, "admin downloaded log analysis", map[string]any{"admin": h.adminName(r)})
}

// RunAutoBlock handles POST /admin/api/logs/autoblock
func (h *AdminHandler) RunAutoBlock(w http.ResponseWriter, r *http.Request) {
	blocked, err := h.autoblock.Sweep(r.Context())
	if err != nil {
		h.logger.Error("auto-block sweep failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Auto-block sweep failed")
		return
	}
	if blocked == nil {
		blocked = []string{}
	}
	writeData(w, map[string][]string{"blocked": blocked})
}

// GetLogSettings handles GET /admin/api/settings/log
func (h *AdminHandler) GetLogSettings(w http.ResponseWriter, r *http.Request) {
	writeData(w, h.feed.Settings())
}

// UpdateLogSettings handles POST /admin/api/settings/log. Fields missing from
// the body keep their current values.
func (h *AdminHandler) UpdateLogSettings(w http.ResponseWriter, r *http.Request) {
	settings := h.feed.Settings()
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := h.feed.UpdateSettings(settings); err != nil {
		if errors.Is(err, logfeed.ErrInvalidSettings) {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
		h.logger.Error("failed to save log settings", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to save settings")
		return
	}

	h.feed.System(logfeed.LevelInfo, "admin updated log settings", map[string]any{"admin": h.adminName(r)})
	writeData(w, settings)
}

// SendTestEmail handles POST /admin/api/settings/test-email. The message goes
// to the signed-in admin's address.
func (h *AdminHandler) SendTestEmail(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetAdminFromContext(r)
	if claims == nil || claims.Email == "" {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	subject, body := services.TestEmail(h.now())
	if err := h.mailer.Send(r.Context(), claims.Email, subject, body); err != nil {
		h.logger.Error("test email failed", slog.String("to", pkglogger.SanitizedEmail(claims.Email)), slog.Any("error", err))
		pkghttp.WriteError(w, http.StatusBadGateway, pkghttp.CodeDeliveryFailed, "test email could not be sent")
		return
	}

	h.feed.System(logfeed.LevelInfo, "admin sent test email", map[string]any{"admin": claims.Username})
	writeData(w, map[string]string{"to": pkglogger.SanitizedEmail(claims.Email)})
}

func (h *AdminHandler) adminName(r *http.Request) string {
	if claims := auth.GetAdminFromContext(r); claims != nil {
		return claims.Username
	}
	return ""
}

func streamParam(w http.ResponseWriter, r *http.Request) (advanced bool, ok bool) {
	switch chi.URLParam(r, "stream") {
	case "normal":
		return false, true
	case "advanced":
		return true, true
	default:
		pkghttp.WriteNotFound(w, "unknown log stream")
		return false, false
	}
}

func normalizedIP(ip string) string {
	if c, ok := pkghttp.NormalizeIP(ip); ok {
		return c
	}
	return ip
}
