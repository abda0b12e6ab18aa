package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalid indicates a setting holds a value the engine cannot use.
var ErrInvalid = errors.New("invalid setting")

// Pool role keys under "pools".
const (
	PoolEventLoop    = "event_loop"
	PoolBlocking     = "blocking"
	PoolCPUIntensive = "cpu_intensive"
)

// PoolSettings sizes one worker pool. Zero values mean "engine default".
type PoolSettings struct {
	Workers int `yaml:"workers"`
	Queue   int `yaml:"queue"`
}

// RetrySettings bounds resubmission of rejected work.
type RetrySettings struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
	Jitter         float64       `yaml:"jitter"`
}

// Settings are the engine settings understood by the strategy.
type Settings struct {
	MaxConcurrency  int                     `yaml:"max_concurrency"`
	EagerAdmission  bool                    `yaml:"eager_admission"`
	InlineBlocking  bool                    `yaml:"inline_blocking"`
	ShutdownTimeout time.Duration           `yaml:"shutdown_timeout"`
	Backpressure    string                  `yaml:"backpressure"`
	Retry           RetrySettings           `yaml:"retry"`
	Pools           map[string]PoolSettings `yaml:"pools"`
}

// Settings decodes engine settings, filling missing keys from defaults.
func (c Config) Settings(defaults Settings) Settings {
	s := Settings{
		MaxConcurrency:  c.Int("max_concurrency", defaults.MaxConcurrency),
		EagerAdmission:  c.Bool("eager_admission", defaults.EagerAdmission),
		InlineBlocking:  c.Bool("inline_blocking", defaults.InlineBlocking),
		ShutdownTimeout: c.Duration("shutdown_timeout", defaults.ShutdownTimeout),
		Backpressure:    c.String("backpressure", defaults.Backpressure),
		Retry: RetrySettings{
			MaxRetries:     c.Int("retry.max_retries", defaults.Retry.MaxRetries),
			InitialBackoff: c.Duration("retry.initial_backoff", defaults.Retry.InitialBackoff),
			MaxBackoff:     c.Duration("retry.max_backoff", defaults.Retry.MaxBackoff),
			BackoffFactor:  c.Float("retry.backoff_factor", defaults.Retry.BackoffFactor),
			Jitter:         c.Float("retry.jitter", defaults.Retry.Jitter),
		},
		Pools: make(map[string]PoolSettings, 3),
	}

	pools := c.Sub("pools")
	for _, role := range []string{PoolEventLoop, PoolBlocking, PoolCPUIntensive} {
		def := defaults.Pools[role]
		section := pools.Sub(role)
		s.Pools[role] = PoolSettings{
			Workers: section.Int("workers", def.Workers),
			Queue:   section.Int("queue", def.Queue),
		}
	}
	return s
}

// Validate reports the first unusable setting.
func (s Settings) Validate() error {
	if s.MaxConcurrency < 0 {
		return fmt.Errorf("%w: max_concurrency %d is negative", ErrInvalid, s.MaxConcurrency)
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: shutdown_timeout %s is negative", ErrInvalid, s.ShutdownTimeout)
	}
	switch s.Backpressure {
	case "", "wait", "fail", "drop":
	default:
		return fmt.Errorf("%w: backpressure %q (want wait, fail or drop)", ErrInvalid, s.Backpressure)
	}
	if s.Retry.MaxRetries < 0 {
		return fmt.Errorf("%w: retry.max_retries %d is negative", ErrInvalid, s.Retry.MaxRetries)
	}
	if s.Retry.MaxRetries > 0 {
		if s.Retry.InitialBackoff <= 0 {
			return fmt.Errorf("%w: retry.initial_backoff %s must be positive", ErrInvalid, s.Retry.InitialBackoff)
		}
		if s.Retry.MaxBackoff < 0 {
			return fmt.Errorf("%w: retry.max_backoff %s is negative", ErrInvalid, s.Retry.MaxBackoff)
		}
		if s.Retry.BackoffFactor < 1 {
			return fmt.Errorf("%w: retry.backoff_factor %v below 1", ErrInvalid, s.Retry.BackoffFactor)
		}
	}
	if s.Retry.Jitter < 0 || s.Retry.Jitter > 1 {
		return fmt.Errorf("%w: retry.jitter %v outside [0,1]", ErrInvalid, s.Retry.Jitter)
	}
	for role, p := range s.Pools {
		if p.Workers < 0 || p.Queue < 0 {
			return fmt.Errorf("%w: pools.%s has negative size", ErrInvalid, role)
		}
	}
	return nil
}
