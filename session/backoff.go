package session

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff defaults.
const (
	DefaultBackoffInitial    = time.Second
	DefaultBackoffMax        = 60 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultBackoffJitter     = 0.2
)

// BackoffConfig configures reconnect delays.
type BackoffConfig struct {
	// Initial is the first delay.
	Initial time.Duration
	// Max caps every delay.
	Max time.Duration
	// Multiplier grows the delay per failed attempt. Zero means
	// DefaultBackoffMultiplier; other values below 1 are treated as 1.
	Multiplier float64
	// Jitter adds up to Jitter×delay of random extra wait, in [0, 1).
	// It also lowers the plateau by up to Jitter×Max. Zero disables
	// jitter unless the whole config is zero.
	Jitter float64
}

// DefaultBackoffConfig returns the default reconnect schedule: 1s doubling to 60s, 20% jitter.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    DefaultBackoffInitial,
		Max:        DefaultBackoffMax,
		Multiplier: DefaultBackoffMultiplier,
		Jitter:     DefaultBackoffJitter,
	}
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c == (BackoffConfig{}) {
		return DefaultBackoffConfig()
	}
	if c.Initial <= 0 {
		c.Initial = DefaultBackoffInitial
	}
	if c.Max <= 0 {
		c.Max = DefaultBackoffMax
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Multiplier == 0 {
		c.Multiplier = DefaultBackoffMultiplier
	}
	if c.Multiplier < 1 {
		c.Multiplier = 1
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.Jitter >= 1 {
		c.Jitter = 0.99
	}
	return c
}

// Schedule computes successive reconnect delays.
//
// Each schedule draws a ceiling in (Max×(1−Jitter), Max] when it
// starts and after every Reset. Delay n is min(Initial×Multiplier^n,
// ceiling) plus a jitter in [0, Jitter×base), clamped to the ceiling
// and never below the previous delay. Between resets the sequence is
// non-decreasing and bounded by Max, and agents sitting at the plateau
// retry on different periods.
type Schedule struct {
	cfg     BackoffConfig
	attempt int
	prev    time.Duration
	ceiling time.Duration
	rand    func() float64
}

// NewSchedule creates a schedule with cfg, filling zero fields with defaults.
func NewSchedule(cfg BackoffConfig) *Schedule {
	return &Schedule{cfg: cfg.withDefaults(), rand: rand.Float64}
}

// Next returns the delay for the next attempt and advances the schedule.
func (b *Schedule) Next() time.Duration {
	if b.attempt == 0 {
		b.ceiling = b.drawCeiling()
	}
	base := b.base(b.attempt)
	b.attempt++

	d := base
	if b.cfg.Jitter > 0 && base < b.ceiling {
		d = min(base+time.Duration(b.rand()*b.cfg.Jitter*float64(base)), b.ceiling)
	}
	d = max(d, b.prev)
	b.prev = d
	return d
}

// Attempt returns how many delays have been handed out since the last Reset.
func (b *Schedule) Attempt() int { return b.attempt }

// Reset restarts the schedule. Called after a successful handshake.
func (b *Schedule) Reset() {
	b.attempt = 0
	b.prev = 0
}

// Ceiling returns the plateau of the current run, or zero before the
// first Next.
func (b *Schedule) Ceiling() time.Duration { return b.ceiling }

func (b *Schedule) drawCeiling() time.Duration {
	c := b.cfg.Max - time.Duration(b.rand()*b.cfg.Jitter*float64(b.cfg.Max))
	return max(c, b.cfg.Initial)
}

func (b *Schedule) base(n int) time.Duration {
	d := float64(b.cfg.Initial) * math.Pow(b.cfg.Multiplier, float64(n))
	if d >= float64(b.ceiling) || math.IsInf(d, 0) {
		return b.ceiling
	}
	return time.Duration(d)
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
