package proactor

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/randalmurphal/proactor/pkg/proactor/config"
	"github.com/randalmurphal/proactor/pkg/proactor/journal"
	"github.com/randalmurphal/proactor/pkg/proactor/lifecycle"
	"github.com/randalmurphal/proactor/pkg/proactor/pool"
	"github.com/randalmurphal/proactor/pkg/proactor/retry"
)

// Option configures a Strategy.
type Option func(*options)

// options holds strategy configuration.
type options struct {
	logger          *slog.Logger
	maxConcurrency  int
	eagerAdmission  bool
	inlineBlocking  bool
	shutdownTimeout time.Duration
	backpressure    Backpressure
	retry           retry.Config
	metricsEnabled  bool
	tracingEnabled  bool
	journal         journal.Store
	sizes           map[lifecycle.Role]config.PoolSettings
	pools           map[lifecycle.Role]pool.Pool
	err             error
}

// defaultOptions returns options with default values.
func defaultOptions() *options {
	cpus := runtime.NumCPU()
	return &options{
		logger:          slog.Default(),
		eagerAdmission:  true,
		shutdownTimeout: 5 * time.Second,
		backpressure:    BackpressureWait,
		retry:           retry.Default,
		sizes: map[lifecycle.Role]config.PoolSettings{
			lifecycle.RoleEventLoop:    {Workers: cpus, Queue: 1024},
			lifecycle.RoleBlocking:     {Workers: max(16, 4*cpus), Queue: 1024},
			lifecycle.RoleCPUIntensive: {Workers: cpus, Queue: 256},
		},
		pools: make(map[lifecycle.Role]pool.Pool),
	}
}

// WithLogger sets the logger for the strategy and its pools.
// Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxConcurrency caps the number of events in flight. 0 means unlimited.
// Default: 0
func WithMaxConcurrency(n int) Option {
	return func(o *options) {
		o.maxConcurrency = max(n, 0)
	}
}

// WithEagerAdmission selects eager (true) or lazy (false) admission.
// Default: true
func WithEagerAdmission(eager bool) Option {
	return func(o *options) {
		o.eagerAdmission = eager
	}
}

// WithInlineBlocking lets Blocking stages run on the event-loop pool when
// the concurrency ceiling fits its parallelism.
// Default: false
func WithInlineBlocking(enabled bool) Option {
	return func(o *options) {
		o.inlineBlocking = enabled
	}
}

// WithShutdownTimeout bounds Stop.
// Default: 5s
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		o.shutdownTimeout = d
	}
}

// WithDefaultBackpressure sets the policy of sinks created without
// WithBackpressure.
// Default: BackpressureWait
func WithDefaultBackpressure(b Backpressure) Option {
	return func(o *options) {
		o.backpressure = b
	}
}

// WithRetry sets the budget for resubmitting rejected work.
// Default: retry.Default
func WithRetry(cfg retry.Config) Option {
	return func(o *options) {
		o.retry = cfg
	}
}

// WithMetrics enables OpenTelemetry metrics.
// Default: false
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithTracing enables OpenTelemetry spans for events and stages.
// Default: false
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithJournal records every terminal outcome in store. The caller owns the
// store and closes it after Dispose.
func WithJournal(store journal.Store) Option {
	return func(o *options) {
		o.journal = store
	}
}

// WithPoolSize sizes the pool the strategy creates for role.
func WithPoolSize(role lifecycle.Role, workers, queue int) Option {
	return func(o *options) {
		o.sizes[role] = config.PoolSettings{Workers: workers, Queue: queue}
	}
}

// WithPool makes the strategy use p for role instead of creating one. The
// strategy starts and stops p like its own pools. The same pool may serve
// several roles. Ignored by NewDirect.
func WithPool(role lifecycle.Role, p pool.Pool) Option {
	return func(o *options) {
		o.pools[role] = p
	}
}

// WithConfig applies file settings. Keys missing from cfg keep the values
// set by earlier options. Invalid settings make the constructor fail.
func WithConfig(cfg config.Config) Option {
	return func(o *options) {
		s := cfg.Settings(o.settings())
		if err := s.Validate(); err != nil {
			o.err = err
			return
		}
		bp, err := ParseBackpressure(s.Backpressure)
		if err != nil {
			o.err = fmt.Errorf("%w: %w", config.ErrInvalid, err)
			return
		}

		o.maxConcurrency = s.MaxConcurrency
		o.eagerAdmission = s.EagerAdmission
		o.inlineBlocking = s.InlineBlocking
		o.shutdownTimeout = s.ShutdownTimeout
		o.backpressure = bp
		o.retry = retry.NewConfig(
			retry.WithMaxRetries(s.Retry.MaxRetries),
			retry.WithInitialBackoff(s.Retry.InitialBackoff),
			retry.WithMaxBackoff(s.Retry.MaxBackoff),
			retry.WithBackoffFactor(s.Retry.BackoffFactor),
			retry.WithJitter(s.Retry.Jitter),
		)
		for _, role := range lifecycle.StopOrder {
			if ps, ok := s.Pools[role.String()]; ok {
				o.sizes[role] = ps
			}
		}
	}
}

// settings renders the options as config settings.
func (o *options) settings() config.Settings {
	s := config.Settings{
		MaxConcurrency:  o.maxConcurrency,
		EagerAdmission:  o.eagerAdmission,
		InlineBlocking:  o.inlineBlocking,
		ShutdownTimeout: o.shutdownTimeout,
		Backpressure:    o.backpressure.String(),
		Retry: config.RetrySettings{
			MaxRetries:     o.retry.MaxRetries,
			InitialBackoff: o.retry.InitialBackoff,
			MaxBackoff:     o.retry.MaxBackoff,
			BackoffFactor:  o.retry.BackoffFactor,
			Jitter:         o.retry.Jitter,
		},
		Pools: make(map[string]config.PoolSettings, len(o.sizes)),
	}
	for role, ps := range o.sizes {
		s.Pools[role.String()] = ps
	}
	return s
}
