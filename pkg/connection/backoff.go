package connection

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

const (
	// RetryDelay is the fixed delay between two failed port scans.
	RetryDelay = 1 * time.Second

	// MaxBackoff caps exponential backoff.
	MaxBackoff = 60 * time.Second

	// BackoffMultiplier is the factor used by exponential backoff.
	BackoffMultiplier = 2.0

	// JitterFactor is the maximum jitter as a fraction of the base delay
	// when exponential backoff is selected.
	JitterFactor = 0.25
)

// Backoff calculates retry delays. A multiplier of 1 gives a fixed delay.
type Backoff struct {
	mu sync.Mutex

	current time.Duration

	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64

	attempts int

	rng *rand.Rand
}

// NewBackoff creates a fixed backoff of RetryDelay without jitter.
func NewBackoff() *Backoff {
	return NewFixedBackoff(RetryDelay)
}

// NewFixedBackoff creates a backoff that always waits d.
func NewFixedBackoff(d time.Duration) *Backoff {
	return NewBackoffWithConfig(BackoffConfig{Initial: d, Max: d, Multiplier: 1})
}

// NewExponentialBackoff creates a doubling backoff from RetryDelay up to
// MaxBackoff with 25% jitter.
func NewExponentialBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{
		Initial:    RetryDelay,
		Max:        MaxBackoff,
		Multiplier: BackoffMultiplier,
		Jitter:     JitterFactor,
	})
}

// BackoffConfig allows customizing backoff parameters.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// NewBackoffWithConfig creates a backoff calculator with custom settings.
// A zero Multiplier means exponential; values below 1 are raised to 1.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = RetryDelay
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	switch {
	case cfg.Multiplier == 0:
		cfg.Multiplier = BackoffMultiplier
	case cfg.Multiplier < 1:
		cfg.Multiplier = 1
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}

	return &Backoff{
		current:    cfg.Initial,
		initial:    cfg.Initial,
		max:        cfg.Max,
		multiplier: cfg.Multiplier,
		jitter:     cfg.Jitter,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the next delay (with jitter) and advances the backoff.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.addJitter(b.current)

	b.attempts++
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next

	return delay
}

// Peek returns the current delay without advancing.
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addJitter(b.current)
}

// Reset restores the initial delay. Call this after a successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the current base delay (without jitter).
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Fixed reports whether every delay is the same.
func (b *Backoff) Fixed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.multiplier == 1 && b.jitter == 0
}

// Wait sleeps for the next delay or until ctx is done.
func (b *Backoff) Wait(ctx context.Context) error {
	return Sleep(ctx, b.Next())
}

func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.jitter*b.rng.Float64())
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in that case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
