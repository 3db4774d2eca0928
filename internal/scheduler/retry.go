package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/cuongbtq/mortgage-recon/internal/clock"
)

// RetryConfig controls how storage calls inside the scheduler are retried.
// Zero or out-of-range fields take the DefaultRetryConfig value.
type RetryConfig struct {
	MaxAttempts       int           // attempts including the first, default 5
	InitialBackoff    time.Duration // default 100ms
	MaxBackoff        time.Duration // default 5s
	BackoffMultiplier float64       // default 2
	JitterFraction    float64       // in (0, 1], default 0.1
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	if c.JitterFraction <= 0 || c.JitterFraction > 1 {
		c.JitterFraction = d.JitterFraction
	}
	return c
}

// backoff hands out the delay before each retry, growing by the multiplier up to the cap.
type backoff struct {
	cfg  RetryConfig
	base time.Duration
}

func (b *backoff) next() time.Duration {
	d := b.base
	if spread := float64(d) * b.cfg.JitterFraction; spread > 0 {
		d += time.Duration(spread * (rand.Float64()*2 - 1))
	}
	b.base = min(time.Duration(float64(b.base)*b.cfg.BackoffMultiplier), b.cfg.MaxBackoff)
	if d <= 0 {
		return b.base
	}
	return d
}

// retryWithBackoff calls op until it succeeds or attempts run out, sleeping on clk between
// calls. Context errors from op or ctx end the loop immediately.
func retryWithBackoff(ctx context.Context, clk clock.Clock, cfg RetryConfig, op func() error) error {
	b := backoff{cfg: cfg, base: cfg.InitialBackoff}

	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || attempt >= cfg.MaxAttempts ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(b.next()):
		}
	}
}
