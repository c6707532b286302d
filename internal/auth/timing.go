package auth

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// TimingConfig controls the padding applied to failed credential checks.
type TimingConfig struct {
	Base           time.Duration // Minimum response time for a failure
	Jitter         time.Duration // Upper bound of the random extra delay
	DelayOnSuccess bool          // Pad successful checks as well
}

// TimingDelay pads credential checks so an unknown username and a wrong
// password take about the same time.
type TimingDelay struct {
	config TimingConfig
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{
		config: config,
	}
}

// WaitFrom sleeps until at least Base plus a random jitter has elapsed since
// start. It returns early when ctx is done.
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time, success bool) {
	if td == nil || (success && !td.config.DelayOnSuccess) {
		return
	}

	remaining := td.target() - time.Since(start)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (td *TimingDelay) target() time.Duration {
	target := td.config.Base
	if td.config.Jitter > 0 {
		// crypto/rand keeps the jitter unpredictable to the caller
		n, err := rand.Int(rand.Reader, big.NewInt(int64(td.config.Jitter)))
		if err == nil {
			target += time.Duration(n.Int64())
		}
	}
	return target
}
