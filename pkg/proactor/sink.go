package proactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/randalmurphal/proactor/pkg/proactor/admission"
	"github.com/randalmurphal/proactor/pkg/proactor/event"
	"github.com/randalmurphal/proactor/pkg/proactor/observability"
	"github.com/randalmurphal/proactor/pkg/proactor/pool"
	"github.com/randalmurphal/proactor/pkg/proactor/retry"
	"github.com/randalmurphal/proactor/pkg/proactor/txn"
)

// Backpressure is the policy a sink applies when the pipeline cannot take
// an event.
type Backpressure int

const (
	// BackpressureWait blocks the producer until the event is admitted and
	// handed off. The producer never sees an overload.
	BackpressureWait Backpressure = iota

	// BackpressureFail rejects the event immediately with an error.
	BackpressureFail

	// BackpressureDrop rejects the event immediately. The error is the same
	// as for BackpressureFail; sources typically discard it.
	BackpressureDrop
)

// String returns the policy name.
func (b Backpressure) String() string {
	switch b {
	case BackpressureWait:
		return "wait"
	case BackpressureFail:
		return "fail"
	case BackpressureDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// ParseBackpressure parses wait, fail or drop. An empty string means wait.
func ParseBackpressure(s string) (Backpressure, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "wait":
		return BackpressureWait, nil
	case "fail":
		return BackpressureFail, nil
	case "drop":
		return BackpressureDrop, nil
	default:
		return 0, fmt.Errorf("unknown backpressure policy %q", s)
	}
}

// SinkOption configures a sink at creation.
type SinkOption func(*sinkConfig)

type sinkConfig struct {
	policy Backpressure
	name   string
}

// WithBackpressure sets the sink's backpressure policy.
func WithBackpressure(b Backpressure) SinkOption {
	return func(c *sinkConfig) {
		c.policy = b
	}
}

// WithSinkName names the sink. Default: the chain name.
func WithSinkName(name string) SinkOption {
	return func(c *sinkConfig) {
		c.name = name
	}
}

// SinkStats is a snapshot of sink counters.
type SinkStats struct {
	Name     string
	Policy   Backpressure
	Accepted uint64
	Rejected uint64
	Disposed bool
}

// Sink is the ingress of one chain. Accept is safe for concurrent use.
type Sink struct {
	name        string
	chain       *Chain
	policy      Backpressure
	requiresHop bool
	guard       txn.Guard
	admission   *admission.Controller
	dispatcher  *Dispatcher
	loop        pool.Pool
	retry       retry.Config
	logger      *slog.Logger
	metrics     observability.MetricsRecorder

	ctx       context.Context
	cancel    context.CancelFunc
	disposed  atomic.Bool
	onDispose func()

	accepted atomic.Uint64
	rejected atomic.Uint64
}

// Name returns the sink name.
func (s *Sink) Name() string {
	return s.name
}

// Chain returns the chain events are run through.
func (s *Sink) Chain() *Chain {
	return s.chain
}

// Policy returns the backpressure policy.
func (s *Sink) Policy() Backpressure {
	return s.policy
}

// Accept hands ev to the pipeline.
//
// A nil error means the event was admitted and handed off; its outcome is
// reported through ev.Completion(). A non-nil error means the event was
// refused, and the same error has already been delivered to its
// completion. Under BackpressureWait, Accept blocks until the event is
// admitted, the event is cancelled or the sink is disposed.
func (s *Sink) Accept(ev *event.Event) error {
	if ev == nil {
		return ErrNilEvent
	}
	if ev.Completion().IsCancelled() {
		return s.reject(ev, &CancellationError{Stage: "ingress", Cause: context.Cause(ev.Context())})
	}
	if s.disposed.Load() {
		return s.reject(ev, ErrSinkDisposed)
	}
	if err := s.guard.CheckCompatible(ev.Context(), s.requiresHop); err != nil {
		return s.reject(ev, err)
	}

	ctx, cancel := s.waitContext(ev)
	defer cancel()

	lazy := s.policy != BackpressureWait && s.admission.Mode() == admission.ModeLazy
	if !lazy {
		if err := s.admit(ctx, ev); err != nil {
			return s.reject(ev, err)
		}
		s.metrics.RecordAdmission(ev.Context(), s.chain.Name(), true)
	}

	r := s.dispatcher.begin(ev, s.chain)
	s.accepted.Add(1)

	task := func(wctx context.Context) {
		if lazy {
			if err := s.tryAdmit(ev); err != nil {
				s.rejected.Add(1)
				s.metrics.RecordAdmission(ev.Context(), s.chain.Name(), false)
				s.logRejected(ev, err)
				r.fail(err)
				return
			}
			s.metrics.RecordAdmission(ev.Context(), s.chain.Name(), true)
		}
		r.start(wctx)
	}

	budget := s.retry.NewBudget()
	if s.policy == BackpressureWait {
		budget = s.retry.Unbounded().NewBudget()
	}
	if err := retry.Do(ctx, budget, func() error { return s.loop.Submit(task) }); err != nil {
		err = s.ingressError(err)
		s.rejected.Add(1)
		r.fail(err)
		return err
	}
	return nil
}

// Dispose stops the sink from accepting events and wakes producers blocked
// in Accept. Events already accepted keep running. Dispose is idempotent.
func (s *Sink) Dispose() {
	if !s.disposed.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	if s.onDispose != nil {
		s.onDispose()
	}
}

// Disposed reports whether Dispose was called.
func (s *Sink) Disposed() bool {
	return s.disposed.Load()
}

// Stats returns a snapshot of sink counters.
func (s *Sink) Stats() SinkStats {
	return SinkStats{
		Name:     s.name,
		Policy:   s.policy,
		Accepted: s.accepted.Load(),
		Rejected: s.rejected.Load(),
		Disposed: s.disposed.Load(),
	}
}

func (s *Sink) admit(ctx context.Context, ev *event.Event) error {
	if s.policy == BackpressureWait {
		err := s.admission.Wait(ctx, ev)
		if err == nil {
			return nil
		}
		if errors.Is(err, admission.ErrClosed) || s.ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrSinkDisposed, err)
		}
		return &CancellationError{Stage: "ingress", Cause: err}
	}
	return s.tryAdmit(ev)
}

// tryAdmit reserves a slot without waiting. A controller closed by
// shutdown reports ErrSinkDisposed, not an overload.
func (s *Sink) tryAdmit(ev *event.Event) error {
	err := s.admission.TryAdmit(ev)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, admission.ErrClosed):
		return fmt.Errorf("%w: %w", ErrSinkDisposed, err)
	default:
		return &AdmissionError{Pipeline: s.chain.Name(), Policy: s.policy, Reason: err}
	}
}

func (s *Sink) ingressError(err error) error {
	var exhausted *retry.ExhaustedError
	switch {
	case errors.As(err, &exhausted):
		return &OverloadError{
			Pipeline: s.chain.Name(),
			Stage:    "ingress",
			Pool:     s.loop.Name(),
			Attempts: exhausted.Attempts,
			Last:     exhausted.Last,
		}
	case errors.Is(err, pool.ErrNotRunning):
		return &StageError{Stage: "ingress", Pool: s.loop.Name(), Err: err}
	case s.ctx.Err() != nil:
		return fmt.Errorf("%w: %w", ErrSinkDisposed, err)
	default:
		return &CancellationError{Stage: "ingress", Cause: err}
	}
}

// reject fails ev with err before it entered the dispatcher.
func (s *Sink) reject(ev *event.Event, err error) error {
	s.rejected.Add(1)
	s.metrics.RecordAdmission(ev.Context(), s.chain.Name(), false)
	s.logRejected(ev, err)

	var cancelled *CancellationError
	if errors.As(err, &cancelled) {
		ev.Completion().Cancel()
	} else {
		ev.Completion().Fail(err)
	}
	return err
}

func (s *Sink) logRejected(ev *event.Event, err error) {
	observability.LogAdmissionRejected(s.logger, s.chain.Name(), ev.ID(), s.policy.String(), err)
}

// waitContext ends when the event is cancelled or the sink is disposed.
func (s *Sink) waitContext(ev *event.Event) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ev.Context())
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
