package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"RFQHub/internal/domain/repository"
)

// Config is an immutable retry policy shared across all venue calls.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	Multiplier  float64
	MaxBackoff  time.Duration
	Jitter      bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: 100 * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  2 * time.Second,
		Jitter:      true,
	}
}

// Policy wraps a single venue call with bounded retries and exponential
// backoff. Only transient gateway failures are retried; permanent ones
// abort immediately without consuming remaining attempts.
type Policy struct {
	cfg   Config
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Policy.
type Option func(*Policy)

// WithSleep overrides the inter-attempt wait (used in tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) { p.sleep = fn }
}

// New creates a retry policy.
func New(cfg Config, opts ...Option) *Policy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultConfig().BaseBackoff
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = DefaultConfig().Multiplier
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig().MaxBackoff
	}
	p := &Policy{cfg: cfg, sleep: sleepCtx}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *Policy) schedule() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.BaseBackoff
	b.Multiplier = p.cfg.Multiplier
	b.MaxInterval = p.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	if p.cfg.Jitter {
		b.RandomizationFactor = 0.2
	} else {
		b.RandomizationFactor = 0
	}
	b.Reset()
	return b
}

// Transient reports whether err is a retry-eligible gateway failure.
func Transient(err error) bool {
	var ge *repository.GatewayError
	if errors.As(err, &ge) {
		return ge.Transient()
	}
	// Unknown transport errors count as connection failures.
	return true
}

// Do runs fn up to MaxAttempts times. Context cancellation stops the loop
// between attempts; the last error is returned on exhaustion.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	sched := p.schedule()
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if !Transient(lastErr) {
			return lastErr
		}
		if attempt == p.cfg.MaxAttempts {
			break
		}
		if err := p.sleep(ctx, sched.NextBackOff()); err != nil {
			return lastErr
		}
	}
	return lastErr
}
