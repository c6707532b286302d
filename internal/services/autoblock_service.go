package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/xiaomao8090/kazay-website/internal/blocklist"
	"github.com/xiaomao8090/kazay-website/internal/logfeed"
	pkglogger "github.com/xiaomao8090/kazay-website/pkg/logger"
)

// AutoBlockReason is stored on every entry the sweep creates.
const AutoBlockReason = "suspicious activity"

// SecurityQuerier reads the advanced stream.
type SecurityQuerier interface {
	Query(advanced bool, filter logfeed.Filter) ([]logfeed.Record, error)
}

// IPBlocker is the part of the blocklist the sweep writes to.
type IPBlocker interface {
	IsBlocked(ip string) bool
	Block(ctx context.Context, ip, reason string, ttl time.Duration) (blocklist.Entry, error)
}

// AutoBlockConfig holds the sweep thresholds.
type AutoBlockConfig struct {
	Lookback  time.Duration // how far back security records are counted
	Threshold int           // records per IP that trigger a block
	BlockTTL  time.Duration
}

func DefaultAutoBlockConfig() AutoBlockConfig {
	return AutoBlockConfig{
		Lookback:  time.Hour,
		Threshold: 10,
		BlockTTL:  blocklist.DefaultTTL,
	}
}

// AutoBlockService turns bursts of security records into temporary blocks.
type AutoBlockService struct {
	feed     SecurityQuerier
	blocks   IPBlocker
	notifier AlertNotifier
	security *pkglogger.SecurityLogger
	config   AutoBlockConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewAutoBlockService(feed SecurityQuerier, blocks IPBlocker, notifier AlertNotifier, security *pkglogger.SecurityLogger, config AutoBlockConfig, logger *slog.Logger) *AutoBlockService {
	return &AutoBlockService{
		feed:     feed,
		blocks:   blocks,
		notifier: notifier,
		security: security,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides time.Now, for tests.
func (s *AutoBlockService) SetClock(now func() time.Time) {
	s.now = now
}

// Sweep counts warning and error security records per IP over the lookback
// period and blocks every IP at or above the threshold. Records of an
// admin's own successful activity never count. It returns the newly blocked
// IPs.
func (s *AutoBlockService) Sweep(ctx context.Context) ([]string, error) {
	now := s.now()
	since := now.Add(-s.config.Lookback)

	records, err := s.feed.Query(true, logfeed.Filter{
		StartDate: since.Format(time.DateOnly),
		EndDate:   now.Format(time.DateOnly),
		Type:      string(logfeed.TypeSecurity),
		Since:     since,
	})
	if err != nil {
		return nil, fmt.Errorf("query security records: %w", err)
	}

	counts := make(map[string]int)
	for _, rec := range records {
		if own, _ := rec.Details["success"].(bool); own {
			continue
		}
		ip, _ := rec.Details["ip"].(string)
		if ip == "" || ip == "unknown" {
			continue
		}
		counts[ip]++
	}

	candidates := make([]string, 0, len(counts))
	for ip, n := range counts {
		if n >= s.config.Threshold && !s.blocks.IsBlocked(ip) {
			candidates = append(candidates, ip)
		}
	}
	sort.Strings(candidates)

	var blocked []string
	for _, ip := range candidates {
		entry, err := s.blocks.Block(ctx, ip, AutoBlockReason, s.config.BlockTTL)
		if err != nil {
			if !errors.Is(err, blocklist.ErrAlreadyBlocked) {
				s.logger.Warn("auto-block failed", slog.String("ip", ip), slog.Any("error", err))
			}
			continue
		}
		blocked = append(blocked, ip)

		s.security.Log(ctx, pkglogger.SecurityEvent{
			Type:    pkglogger.EventIPBlocked,
			Message: "IP automatically blocked",
			IP:      ip,
			Reason:  AutoBlockReason,
			Level:   logfeed.LevelWarning,
			Metadata: map[string]any{
				"events":    counts[ip],
				"expiresAt": entry.ExpiresAt.Format(time.RFC3339),
			},
		})
		s.notifier.Alert(ctx, "IP automatically blocked", map[string]string{
			"ip":         ip,
			"events":     strconv.Itoa(counts[ip]),
			"reason":     AutoBlockReason,
			"expires_at": entry.ExpiresAt.Format(time.RFC3339),
		})
	}

	if len(blocked) > 0 {
		s.logger.Info("auto-block sweep blocked IPs", slog.Any("ips", blocked))
	}
	return blocked, nil
}
