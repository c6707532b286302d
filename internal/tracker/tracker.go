// Package tracker keeps per-client sliding windows of failures and attempts
// and turns them into allow/deny decisions with a cooldown.
package tracker

import (
	"math"
	"sync"
	"time"
)

// Policy describes one threshold. A key is denied once its in-window count
// exceeds Max, and stays denied for Cooldown.
type Policy struct {
	Window   time.Duration
	Max      int
	Cooldown time.Duration
}

// LoginPolicy refuses further attempts once maxFailures failures have been
// recorded inside window.
func LoginPolicy(maxFailures int, window time.Duration) Policy {
	return Policy{Window: window, Max: maxFailures - 1, Cooldown: window}
}

// Decision is the outcome of a threshold check.
type Decision struct {
	Allowed   bool
	Remaining time.Duration
}

// RemainingMinutes rounds the cooldown up to whole minutes.
func (d Decision) RemainingMinutes() int {
	if d.Remaining <= 0 {
		return 0
	}
	return int(math.Ceil(d.Remaining.Minutes()))
}

type window struct {
	attempts     []time.Time
	blockedUntil time.Time
}

// Tracker holds one window per key.
type Tracker struct {
	mu          sync.Mutex
	windows     map[string]*window
	alertWindow time.Duration
	retention   time.Duration
	now         func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithRetention sets how long entries survive Prune. It defaults to one hour.
func WithRetention(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.retention = d
		}
	}
}

// New creates a tracker whose RecordFailure counts over alertWindow.
func New(alertWindow time.Duration, opts ...Option) *Tracker {
	t := &Tracker{
		windows:     make(map[string]*window),
		alertWindow: alertWindow,
		retention:   time.Hour,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.retention < alertWindow {
		t.retention = alertWindow
	}
	return t
}

// RecordFailure appends a failure for key and returns how many failures the
// key has inside the alert window, this one included.
func (t *Tracker) RecordFailure(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	w := t.windowLocked(key)
	w.attempts = append(w.attempts, now)

	cutoff := now.Add(-t.alertWindow)
	count := 0
	for _, ts := range w.attempts {
		if ts.After(cutoff) {
			count++
		}
	}
	return count
}

// CheckThreshold prunes key to the policy window and reports whether it may
// proceed. Exceeding the policy starts a cooldown.
func (t *Tracker) CheckThreshold(key string, p Policy) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[key]
	if !ok {
		return Decision{Allowed: true}
	}

	now := t.now()
	w.attempts = prune(w.attempts, now.Add(-p.Window))

	if now.Before(w.blockedUntil) {
		return Decision{Allowed: false, Remaining: w.blockedUntil.Sub(now)}
	}

	if len(w.attempts) > p.Max {
		w.blockedUntil = now.Add(p.Cooldown)
		return Decision{Allowed: false, Remaining: p.Cooldown}
	}

	return Decision{Allowed: true}
}

// Throttle records an attempt for key and then checks it against p. The
// attempt that exceeds Max is recorded and denied, which starts the cooldown.
// Attempts made during the cooldown are denied without being recorded.
func (t *Tracker) Throttle(key string, p Policy) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	w := t.windowLocked(key)
	w.attempts = prune(w.attempts, now.Add(-p.Window))

	if now.Before(w.blockedUntil) {
		return Decision{Allowed: false, Remaining: w.blockedUntil.Sub(now)}
	}
	w.blockedUntil = time.Time{}

	w.attempts = append(w.attempts, now)
	if len(w.attempts) > p.Max {
		w.blockedUntil = now.Add(p.Cooldown)
		return Decision{Allowed: false, Remaining: p.Cooldown}
	}

	return Decision{Allowed: true}
}

// Count returns the number of entries for key inside d.
func (t *Tracker) Count(key string, d time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[key]
	if !ok {
		return 0
	}
	cutoff := t.now().Add(-d)
	count := 0
	for _, ts := range w.attempts {
		if ts.After(cutoff) {
			count++
		}
	}
	return count
}

// Clear forgets key entirely, including any active cooldown.
func (t *Tracker) Clear(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.windows, key)
}

// Prune drops entries older than the retention period and removes keys that
// are left empty and unblocked. It returns the number of keys removed.
func (t *Tracker) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	cutoff := now.Add(-t.retention)
	removed := 0
	for key, w := range t.windows {
		w.attempts = prune(w.attempts, cutoff)
		if len(w.attempts) == 0 && !now.Before(w.blockedUntil) {
			delete(t.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.windows)
}

func (t *Tracker) windowLocked(key string) *window {
	w, ok := t.windows[key]
	if !ok {
		w = &window{}
		t.windows[key] = w
	}
	return w
}

// prune keeps timestamps after cutoff. Attempts are appended in order, so the
// slice is sorted.
func prune(attempts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(attempts) && !attempts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return attempts
	}
	return append(attempts[:0], attempts[i:]...)
}
