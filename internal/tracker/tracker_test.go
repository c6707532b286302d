package tracker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xiaomao8090/kazay-website/internal/tracker"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestRecordFailure_CountsInsideAlertWindow(t *testing.T) {
	clock := newClock()
	tr := tracker.New(15*time.Minute, tracker.WithClock(clock.Now))

	assert.Equal(t, 1, tr.RecordFailure("1.2.3.4"))
	clock.Advance(time.Minute)
	assert.Equal(t, 2, tr.RecordFailure("1.2.3.4"))

	clock.Advance(20 * time.Minute)
	assert.Equal(t, 1, tr.RecordFailure("1.2.3.4"))
	assert.Equal(t, 1, tr.RecordFailure("5.6.7.8"))
}

func TestLoginPolicy_DeniesAfterFiveFailures(t *testing.T) {
	clock := newClock()
	tr := tracker.New(15*time.Minute, tracker.WithClock(clock.Now))
	policy := tracker.LoginPolicy(5, 15*time.Minute)

	for i := 0; i < 4; i++ {
		tr.RecordFailure("ip")
		assert.True(t, tr.CheckThreshold("ip", policy).Allowed, "failure %d", i+1)
	}

	tr.RecordFailure("ip")
	d := tr.CheckThreshold("ip", policy)
	assert.False(t, d.Allowed)
	assert.Equal(t, 15*time.Minute, d.Remaining)
	assert.Equal(t, 15, d.RemainingMinutes())
}

func TestCheckThreshold_DeniesExactlyWhenCountExceedsMax(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		max      int
		allowed  bool
	}{
		{"below", 2, 3, true},
		{"equal", 3, 3, true},
		{"above", 4, 3, false},
		{"none", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := tracker.New(time.Hour)
			for i := 0; i < tt.failures; i++ {
				tr.RecordFailure("k")
			}
			d := tr.CheckThreshold("k", tracker.Policy{Window: time.Hour, Max: tt.max, Cooldown: time.Minute})
			assert.Equal(t, tt.allowed, d.Allowed)
		})
	}
}

func TestCheckThreshold_RemainingDecreasesUntilAllowed(t *testing.T) {
	clock := newClock()
	tr := tracker.New(10*time.Minute, tracker.WithClock(clock.Now))
	policy := tracker.Policy{Window: 10 * time.Minute, Max: 1, Cooldown: 30 * time.Minute}

	tr.RecordFailure("k")
	tr.RecordFailure("k")

	first := tr.CheckThreshold("k", policy)
	assert.False(t, first.Allowed)

	clock.Advance(10 * time.Minute)
	second := tr.CheckThreshold("k", policy)
	assert.False(t, second.Allowed)
	assert.Less(t, second.Remaining, first.Remaining)
	assert.Equal(t, 20*time.Minute, second.Remaining)

	clock.Advance(20 * time.Minute)
	assert.True(t, tr.CheckThreshold("k", policy).Allowed)
}

func TestThrottle_EmailPolicy(t *testing.T) {
	clock := newClock()
	tr := tracker.New(10*time.Minute, tracker.WithClock(clock.Now))
	policy := tracker.Policy{Window: 10 * time.Minute, Max: 5, Cooldown: 30 * time.Minute}

	for i := 0; i < 5; i++ {
		assert.True(t, tr.Throttle("ip", policy).Allowed, "send %d", i+1)
		clock.Advance(time.Second)
	}

	d := tr.Throttle("ip", policy)
	assert.False(t, d.Allowed)
	assert.Equal(t, 30, d.RemainingMinutes())

	clock.Advance(29*time.Minute + 30*time.Second)
	d = tr.Throttle("ip", policy)
	assert.False(t, d.Allowed)
	assert.Equal(t, 1, d.RemainingMinutes())

	clock.Advance(time.Minute)
	assert.True(t, tr.Throttle("ip", policy).Allowed)
}

func TestThrottle_RecordsCrossingAttemptOnly(t *testing.T) {
	clock := newClock()
	tr := tracker.New(10*time.Minute, tracker.WithClock(clock.Now))
	policy := tracker.Policy{Window: 10 * time.Minute, Max: 2, Cooldown: 30 * time.Minute}

	assert.True(t, tr.Throttle("ip", policy).Allowed)
	assert.True(t, tr.Throttle("ip", policy).Allowed)
	assert.False(t, tr.Throttle("ip", policy).Allowed)
	assert.Equal(t, 3, tr.Count("ip", 10*time.Minute), "the attempt that crosses Max is recorded")

	clock.Advance(time.Minute)
	assert.False(t, tr.Throttle("ip", policy).Allowed)
	assert.False(t, tr.Throttle("ip", policy).Allowed)
	assert.Equal(t, 3, tr.Count("ip", 10*time.Minute), "attempts during the cooldown are not recorded")
}

func TestThrottle_OldAttemptsFallOutOfWindow(t *testing.T) {
	clock := newClock()
	tr := tracker.New(10*time.Minute, tracker.WithClock(clock.Now))
	policy := tracker.Policy{Window: 10 * time.Minute, Max: 2, Cooldown: 30 * time.Minute}

	assert.True(t, tr.Throttle("ip", policy).Allowed)
	assert.True(t, tr.Throttle("ip", policy).Allowed)
	clock.Advance(11 * time.Minute)
	assert.True(t, tr.Throttle("ip", policy).Allowed)
	assert.True(t, tr.Throttle("ip", policy).Allowed)
	assert.False(t, tr.Throttle("ip", policy).Allowed)
}

func TestClear(t *testing.T) {
	tr := tracker.New(time.Hour)
	policy := tracker.Policy{Window: time.Hour, Max: 0, Cooldown: time.Hour}

	tr.RecordFailure("k")
	assert.False(t, tr.CheckThreshold("k", policy).Allowed)

	tr.Clear("k")
	assert.True(t, tr.CheckThreshold("k", policy).Allowed)
	assert.Equal(t, 0, tr.Count("k", time.Hour))
}

func TestPrune_RemovesEmptyUnblockedKeys(t *testing.T) {
	clock := newClock()
	tr := tracker.New(15*time.Minute, tracker.WithClock(clock.Now))
	policy := tracker.Policy{Window: 15 * time.Minute, Max: 0, Cooldown: 2 * time.Hour}

	tr.RecordFailure("stale")
	tr.RecordFailure("blocked")
	tr.CheckThreshold("blocked", policy)

	clock.Advance(90 * time.Minute)
	tr.RecordFailure("fresh")

	assert.Equal(t, 1, tr.Prune())
	assert.Equal(t, 2, tr.Len())

	clock.Advance(45 * time.Minute)
	assert.Equal(t, 1, tr.Prune(), "blocked key goes once its cooldown ends")
	assert.Equal(t, 1, tr.Len())
}
