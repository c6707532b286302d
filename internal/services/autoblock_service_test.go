package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaomao8090/kazay-website/internal/blocklist"
	"github.com/xiaomao8090/kazay-website/internal/logfeed"
	pkglogger "github.com/xiaomao8090/kazay-website/pkg/logger"
)

type autoBlockFixture struct {
	svc      *AutoBlockService
	feed     *logfeed.Feed
	list     *blocklist.Blocklist
	notifier *MockAlertNotifier
	clock    *TestClock
}

func newAutoBlockFixture(t *testing.T) *autoBlockFixture {
	t.Helper()

	clock := NewTestClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	feed, err := logfeed.New(t.TempDir(), logfeed.WithClock(clock.Now), logfeed.WithLogger(logger))
	require.NoError(t, err)

	list := blocklist.New(&MockBlocklistStorage{}, blocklist.WithClock(clock.Now), blocklist.WithLogger(logger))
	notifier := &MockAlertNotifier{}

	svc := NewAutoBlockService(feed, list, notifier, pkglogger.NewSecurityLogger(logger, feed), DefaultAutoBlockConfig(), logger)
	svc.SetClock(clock.Now)

	return &autoBlockFixture{svc: svc, feed: feed, list: list, notifier: notifier, clock: clock}
}

func (f *autoBlockFixture) securityEvents(ip string, n int) {
	for i := 0; i < n; i++ {
		f.feed.Security(logfeed.LevelWarning, "admin login failed", map[string]any{"ip": ip})
		f.clock.Advance(time.Second)
	}
}

func TestAutoBlock_BlocksNoisyIP(t *testing.T) {
	f := newAutoBlockFixture(t)
	f.securityEvents("9.9.9.9", 12)
	f.securityEvents("8.8.8.8", 3)

	blocked, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"9.9.9.9"}, blocked)

	assert.True(t, f.list.IsBlocked("9.9.9.9"))
	assert.False(t, f.list.IsBlocked("8.8.8.8"))

	doc := f.list.List()
	require.Len(t, doc.Temporary, 1)
	assert.Equal(t, AutoBlockReason, doc.Temporary[0].Reason)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), doc.Temporary[0].ExpiresAt)

	require.Equal(t, 1, f.notifier.Count())
	assert.Equal(t, "9.9.9.9", f.notifier.Alerts[0].Fields["ip"])
	assert.Equal(t, "12", f.notifier.Alerts[0].Fields["events"])

	recs, err := f.feed.Query(true, logfeed.Filter{Search: pkglogger.EventIPBlocked})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestAutoBlock_ThresholdIsInclusive(t *testing.T) {
	f := newAutoBlockFixture(t)
	f.securityEvents("7.7.7.7", 10)
	f.securityEvents("6.6.6.6", 9)

	blocked, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"7.7.7.7"}, blocked)
}

func TestAutoBlock_IgnoresOldEvents(t *testing.T) {
	f := newAutoBlockFixture(t)
	f.securityEvents("9.9.9.9", 12)

	f.clock.Advance(2 * time.Hour)

	blocked, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, blocked)
	assert.False(t, f.list.IsBlocked("9.9.9.9"))
}

func TestAutoBlock_SkipsAlreadyBlocked(t *testing.T) {
	f := newAutoBlockFixture(t)
	_, err := f.list.Block(context.Background(), "9.9.9.9", "manual", time.Hour)
	require.NoError(t, err)
	f.securityEvents("9.9.9.9", 12)

	blocked, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, blocked)
	assert.Equal(t, 0, f.notifier.Count())
	assert.Equal(t, "manual", f.list.List().Temporary[0].Reason)
}

func TestAutoBlock_ReblocksAfterExpiryOnlyWhenRecurring(t *testing.T) {
	f := newAutoBlockFixture(t)
	f.securityEvents("9.9.9.9", 12)

	_, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	assert.False(t, f.list.IsBlocked("9.9.9.9"), "expired entries do not block")

	blocked, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, blocked)

	f.securityEvents("9.9.9.9", 10)
	blocked, err = f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"9.9.9.9"}, blocked)
}

func TestAutoBlock_IgnoresRecordsWithoutIP(t *testing.T) {
	f := newAutoBlockFixture(t)
	for i := 0; i < 15; i++ {
		f.feed.Security(logfeed.LevelError, "config reload failed", nil)
	}
	f.feed.Access("GET /", map[string]any{"ip": "4.4.4.4"})

	blocked, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, blocked)
}

type failingQuerier struct{}

func (failingQuerier) Query(bool, logfeed.Filter) ([]logfeed.Record, error) {
	return nil, errors.New("disk gone")
}

func TestAutoBlock_QueryError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewAutoBlockService(failingQuerier{}, blocklist.New(&MockBlocklistStorage{}), &MockAlertNotifier{}, pkglogger.NewSecurityLogger(logger, nil), DefaultAutoBlockConfig(), logger)

	_, err := svc.Sweep(context.Background())
	assert.Error(t, err)
}

func TestAutoBlock_CountsInfoLevelRecords(t *testing.T) {
	f := newAutoBlockFixture(t)
	for i := 0; i < 12; i++ {
		f.feed.Security(logfeed.LevelInfo, "verification code sent", map[string]any{"ip": "9.9.9.9", "event": pkglogger.EventCodeIssued})
	}

	blocked, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"9.9.9.9"}, blocked)
	assert.True(t, f.list.IsBlocked("9.9.9.9"))
}

func TestAutoBlock_IgnoresAdminSuccessRecords(t *testing.T) {
	f := newAutoBlockFixture(t)
	security := pkglogger.NewSecurityLogger(slog.New(slog.NewTextHandler(io.Discard, nil)), f.feed)
	for i := 0; i < 12; i++ {
		security.Log(context.Background(), pkglogger.SecurityEvent{
			Type:     pkglogger.EventLoginSucceeded,
			Message:  "admin login verified",
			IP:       "5.5.5.5",
			Username: "admin",
			Success:  true,
		})
		security.Log(context.Background(), pkglogger.SecurityEvent{
			Type:     pkglogger.EventIPBlocked,
			Message:  "admin blocked IP",
			IP:       "5.5.5.5",
			Username: "admin",
			Success:  true,
			Level:    logfeed.LevelInfo,
		})
	}

	blocked, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, blocked)
	assert.False(t, f.list.IsBlocked("5.5.5.5"))
}
