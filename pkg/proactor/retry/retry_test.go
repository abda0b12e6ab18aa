package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/randalmurphal/proactor/pkg/proactor/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type selfClassified struct{ transient bool }

func (e selfClassified) Error() string   { return "self" }
func (e selfClassified) Transient() bool { return e.transient }

func TestCategoryString(t *testing.T) {
	assert.Equal(t, "transient", CategoryTransient.String())
	assert.Equal(t, "permanent", CategoryPermanent.String())
	assert.Equal(t, "unknown", Category(99).String())
}

func TestCategorize(t *testing.T) {
	rejected := &pool.RejectedError{Pool: "io", Cause: pool.ErrRejected}
	stopped := &pool.RejectedError{Pool: "io", Cause: pool.ErrNotRunning}

	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil error", nil, CategoryPermanent},
		{"pool rejection", rejected, CategoryTransient},
		{"wrapped pool rejection", fmt.Errorf("stage x: %w", rejected), CategoryTransient},
		{"pool not running", stopped, CategoryPermanent},
		{"cancelled", context.Canceled, CategoryPermanent},
		{"cancelled while rejected", errors.Join(context.Canceled, rejected), CategoryPermanent},
		{"deadline", context.DeadlineExceeded, CategoryPermanent},
		{"self classified transient", selfClassified{transient: true}, CategoryTransient},
		{"self classified permanent", selfClassified{}, CategoryPermanent},
		{"unknown", errors.New("unknown"), CategoryPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Categorize(tt.err))
		})
	}
}

func TestBudget_Next(t *testing.T) {
	cfg := Config{
		MaxRetries:     4,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     30 * time.Millisecond,
		BackoffFactor:  2,
	}
	b := cfg.NewBudget()

	var delays []time.Duration
	for {
		d, ok := b.Next()
		if !ok {
			break
		}
		delays = append(delays, d)
	}

	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
		30 * time.Millisecond,
	}, delays)
	assert.Equal(t, 4, b.Retries())
	assert.Equal(t, 0, b.Remaining())
}

func TestBudget_NoRetry(t *testing.T) {
	b := NewConfig(WithMaxRetries(0)).NewBudget()
	_, ok := b.Next()
	assert.False(t, ok)
	assert.Equal(t, 0, b.Remaining())
}

func TestBudget_Unbounded(t *testing.T) {
	b := Default.Unbounded().NewBudget()
	for range 1000 {
		_, ok := b.Next()
		require.True(t, ok)
	}
	assert.Equal(t, Unlimited, b.Remaining())
}

func TestBudget_Jitter(t *testing.T) {
	cfg := NewConfig(
		WithInitialBackoff(100*time.Millisecond),
		WithMaxBackoff(100*time.Millisecond),
		WithJitter(0.2),
	)
	b := cfg.NewBudget()
	for range cfg.MaxRetries {
		d, ok := b.Next()
		require.True(t, ok)
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig(WithMaxRetries(3), WithBackoffFactor(1.5))
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 1.5, cfg.BackoffFactor)
	assert.Equal(t, Default.InitialBackoff, cfg.InitialBackoff)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"default", Default, true},
		{"no retries", Config{}, true},
		{"unlimited", Default.Unbounded(), false},
		{"negative", NewConfig(WithMaxRetries(-3)), false},
		{"zero backoff", NewConfig(WithInitialBackoff(0)), false},
		{"negative max backoff", NewConfig(WithMaxBackoff(-time.Millisecond)), false},
		{"shrinking factor", NewConfig(WithBackoffFactor(0.5)), false},
		{"jitter above one", NewConfig(WithJitter(1.5)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestDo(t *testing.T) {
	fast := NewConfig(WithInitialBackoff(time.Microsecond), WithMaxBackoff(time.Microsecond), WithJitter(0))
	busy := &pool.RejectedError{Pool: "cpu", Cause: pool.ErrRejected}

	t.Run("succeeds after transient rejections", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fast.NewBudget(), func() error {
			calls++
			if calls < 3 {
				return busy
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		calls := 0
		stopped := &pool.RejectedError{Pool: "cpu", Cause: pool.ErrNotRunning}
		err := Do(context.Background(), fast.NewBudget(), func() error {
			calls++
			return stopped
		})
		assert.ErrorIs(t, err, pool.ErrNotRunning)
		assert.Equal(t, 1, calls)
	})

	t.Run("exhausts budget", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fast.NewBudget(), func() error {
			calls++
			return busy
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrExhausted)
		assert.ErrorIs(t, err, pool.ErrRejected)

		var exhausted *ExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, fast.MaxRetries+1, exhausted.Attempts)
		assert.Equal(t, fast.MaxRetries+1, calls)
	})

	t.Run("respects context", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		defer cancel()
		err := Do(ctx, Default.Unbounded().NewBudget(), func() error { return busy })
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
