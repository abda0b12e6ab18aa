package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Sentinel errors for retry operations.
var (
	// ErrExhausted indicates a retry budget ran out.
	ErrExhausted = errors.New("retry budget exhausted")

	// ErrInvalidConfig indicates a Config that cannot bound resubmission.
	ErrInvalidConfig = errors.New("invalid retry config")
)

// Unlimited as MaxRetries disables the retry bound. Only Unbounded sets it;
// Validate rejects it.
const Unlimited = -1

// Config configures retry behavior for rejected submissions.
type Config struct {
	// MaxRetries is the number of resubmissions allowed after the first
	// attempt.
	MaxRetries int

	// InitialBackoff is the delay before the first resubmission.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to the delay after each attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64
}

// Default is the standard configuration for pool rejections: short delays
// because queues drain in microseconds, and enough attempts to ride out a
// burst of a few hundred milliseconds.
var Default = Config{
	MaxRetries:     8,
	InitialBackoff: 2 * time.Millisecond,
	MaxBackoff:     100 * time.Millisecond,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// Option configures retry behavior.
type Option func(*Config)

// WithMaxRetries sets the retry bound.
func WithMaxRetries(n int) Option {
	return func(cfg *Config) {
		cfg.MaxRetries = n
	}
}

// WithInitialBackoff sets the initial backoff duration.
func WithInitialBackoff(d time.Duration) Option {
	return func(cfg *Config) {
		cfg.InitialBackoff = d
	}
}

// WithMaxBackoff sets the maximum backoff duration.
func WithMaxBackoff(d time.Duration) Option {
	return func(cfg *Config) {
		cfg.MaxBackoff = d
	}
}

// WithBackoffFactor sets the backoff multiplier.
func WithBackoffFactor(f float64) Option {
	return func(cfg *Config) {
		cfg.BackoffFactor = f
	}
}

// WithJitter sets the jitter factor.
func WithJitter(j float64) Option {
	return func(cfg *Config) {
		cfg.Jitter = j
	}
}

// NewConfig creates a configuration from Default with the given options.
func NewConfig(opts ...Option) Config {
	cfg := Default
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Validate reports a configuration that would not bound resubmission or
// would resubmit without waiting.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries %d is negative", ErrInvalidConfig, c.MaxRetries)
	}
	if c.MaxRetries == 0 {
		return nil
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("%w: initial backoff %s must be positive", ErrInvalidConfig, c.InitialBackoff)
	}
	if c.MaxBackoff < 0 {
		return fmt.Errorf("%w: max backoff %s is negative", ErrInvalidConfig, c.MaxBackoff)
	}
	if c.BackoffFactor < 1 {
		return fmt.Errorf("%w: backoff factor %v below 1", ErrInvalidConfig, c.BackoffFactor)
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		return fmt.Errorf("%w: jitter %v outside [0,1]", ErrInvalidConfig, c.Jitter)
	}
	return nil
}

// Unbounded returns a copy of c with no retry bound. It is meant for
// producers that block until a hand-off succeeds, never for dispatch.
func (c Config) Unbounded() Config {
	c.MaxRetries = Unlimited
	return c
}

// Budget is the retry state of a single submission. It is created when the
// submission is first attempted and discarded on success or exhaustion.
// A Budget is not safe for concurrent use; each submission owns one.
type Budget struct {
	cfg     Config
	retries int
	backoff time.Duration
}

// NewBudget creates a fresh budget for one submission.
func (c Config) NewBudget() *Budget {
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 1
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = c.InitialBackoff
	}
	return &Budget{cfg: c, backoff: c.InitialBackoff}
}

// Next consumes one retry and returns the delay to wait before it.
// It returns false when the budget is exhausted.
func (b *Budget) Next() (time.Duration, bool) {
	if b.cfg.MaxRetries != Unlimited && b.retries >= b.cfg.MaxRetries {
		return 0, false
	}
	b.retries++

	delay := calculateBackoff(b.backoff, b.cfg.Jitter)
	b.backoff = time.Duration(float64(b.backoff) * b.cfg.BackoffFactor)
	if b.backoff > b.cfg.MaxBackoff {
		b.backoff = b.cfg.MaxBackoff
	}
	return delay, true
}

// Retries returns how many retries have been consumed.
func (b *Budget) Retries() int {
	return b.retries
}

// Remaining returns how many retries are left, or Unlimited.
func (b *Budget) Remaining() int {
	if b.cfg.MaxRetries == Unlimited {
		return Unlimited
	}
	return b.cfg.MaxRetries - b.retries
}

// ExhaustedError reports the last rejection once a budget ran out.
type ExhaustedError struct {
	// Attempts is the number of submissions made, including the first.
	Attempts int

	// Last is the final rejection.
	Last error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap exposes both ErrExhausted and the last rejection.
func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Last}
}

// Do calls fn until it succeeds, returns a permanent error, the budget is
// exhausted or ctx ends. It sleeps between attempts on the calling
// goroutine. The returned error is fn's permanent error, an
// *ExhaustedError, or ctx's error joined with the last rejection.
func Do(ctx context.Context, b *Budget, fn func() error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}

		delay, ok := b.Next()
		if !ok {
			return &ExhaustedError{Attempts: b.Retries() + 1, Last: err}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), err)
		case <-timer.C:
		}
	}
}

// calculateBackoff returns the backoff duration with jitter applied.
func calculateBackoff(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}

	// base +/- (base * jitter * random)
	jitterAmount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + jitterAmount)
}
