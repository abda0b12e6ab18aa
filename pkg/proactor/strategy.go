package proactor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/randalmurphal/proactor/pkg/proactor/admission"
	"github.com/randalmurphal/proactor/pkg/proactor/config"
	"github.com/randalmurphal/proactor/pkg/proactor/event"
	"github.com/randalmurphal/proactor/pkg/proactor/lifecycle"
	"github.com/randalmurphal/proactor/pkg/proactor/observability"
	"github.com/randalmurphal/proactor/pkg/proactor/pool"
	"github.com/randalmurphal/proactor/pkg/proactor/registry"
	"github.com/randalmurphal/proactor/pkg/proactor/txn"
)

// Variant selects how a strategy executes stages.
type Variant int

const (
	// VariantProactor runs stages on event-loop, blocking and
	// cpu-intensive pools.
	VariantProactor Variant = iota

	// VariantDirect runs every stage on the goroutine calling Accept.
	VariantDirect
)

// String returns the variant name.
func (v Variant) String() string {
	switch v {
	case VariantProactor:
		return "proactor"
	case VariantDirect:
		return "direct"
	default:
		return "unknown"
	}
}

type strategyState int

const (
	stateCreated strategyState = iota
	stateInitialised
	stateStarted
	stateStopped
	stateDisposed
)

// InternalSink is a long-lived internal stream the strategy waits for
// before stopping pools. Done is closed once it has fully drained.
type InternalSink interface {
	Done() <-chan struct{}
}

// Strategy owns the pools, admission control and sinks of one pipeline
// runtime.
type Strategy struct {
	variant Variant
	opts    *options
	logger  *slog.Logger

	mu         sync.Mutex
	state      strategyState
	lc         *lifecycle.Controller
	classifier *Classifier
	dispatcher *Dispatcher
	admission  *admission.Controller
	sinks      *registry.Registry[string, *Sink]
}

// NewProactor creates a strategy that dispatches stages to pools by
// processing type.
func NewProactor(opts ...Option) (*Strategy, error) {
	return newStrategy(VariantProactor, opts)
}

// NewDirect creates a strategy that runs every stage on the caller's
// goroutine with no pools.
func NewDirect(opts ...Option) (*Strategy, error) {
	return newStrategy(VariantDirect, opts)
}

func newStrategy(v Variant, opts []Option) (*Strategy, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.err != nil {
		return nil, fmt.Errorf("%s strategy: %w", v, o.err)
	}
	if err := o.retry.Validate(); err != nil {
		return nil, fmt.Errorf("%s strategy: %w: %w", v, config.ErrInvalid, err)
	}
	return &Strategy{
		variant: v,
		opts:    o,
		logger:  o.logger,
		sinks:   registry.New[string, *Sink](),
	}, nil
}

// Variant returns the strategy variant.
func (s *Strategy) Variant() Variant {
	return s.variant
}

// Settings returns the effective settings.
func (s *Strategy) Settings() config.Settings {
	return s.opts.settings()
}

// Initialise creates the pools, classifier, dispatcher and admission
// controller. It is idempotent.
func (s *Strategy) Initialise() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialiseLocked()
}

func (s *Strategy) initialiseLocked() error {
	switch s.state {
	case stateCreated:
	case stateStopped:
		return ErrStrategyStopped
	case stateDisposed:
		return ErrStrategyDisposed
	default:
		return nil
	}

	o := s.opts
	lc := lifecycle.New(lifecycle.Config{
		ShutdownTimeout: o.shutdownTimeout,
		Drain:           s.drain,
		Logger:          s.logger,
	})

	var pools Pools
	if s.variant == VariantDirect {
		pools.EventLoop = pool.NewCallerRuns()
		if err := lc.Manage(lifecycle.RoleEventLoop, pools.EventLoop); err != nil {
			return err
		}
	} else {
		for _, role := range lifecycle.StopOrder {
			p, ok := o.pools[role]
			if !ok {
				size := o.sizes[role]
				p = pool.New(pool.Config{
					Name:      role.String(),
					Workers:   size.Workers,
					QueueSize: size.Queue,
					Logger:    s.logger,
				})
			}
			if err := lc.Manage(role, p); err != nil {
				return err
			}
			switch role {
			case lifecycle.RoleEventLoop:
				pools.EventLoop = p
			case lifecycle.RoleBlocking:
				pools.Blocking = p
			case lifecycle.RoleCPUIntensive:
				pools.CPUIntensive = p
			}
		}
	}

	mode := admission.ModeLazy
	if o.eagerAdmission {
		mode = admission.ModeEager
	}
	s.admission = admission.New(admission.Config{Max: o.maxConcurrency, Mode: mode})

	s.classifier = NewClassifier(pools, ClassifierConfig{
		Direct:         s.variant == VariantDirect,
		InlineBlocking: o.inlineBlocking,
		MaxConcurrency: o.maxConcurrency,
	})

	var metrics observability.MetricsRecorder = observability.NoopMetrics{}
	if o.metricsEnabled {
		metrics = observability.NewMetricsRecorder()
	}
	var spans observability.SpanManager = observability.NoopSpanManager{}
	if o.tracingEnabled {
		spans = observability.NewSpanManager()
	}
	s.dispatcher = newDispatcher(dispatcherConfig{
		classifier: s.classifier,
		retry:      o.retry,
		logger:     s.logger,
		metrics:    metrics,
		spans:      spans,
		journal:    o.journal,
		writer:     pools.Blocking,
	})

	s.lc = lc
	s.state = stateInitialised
	return nil
}

// Start initialises the strategy if needed and starts its pools. It is
// idempotent.
func (s *Strategy) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.initialiseLocked(); err != nil {
		return err
	}
	if s.state == stateStarted {
		return nil
	}
	if err := s.lc.Start(); err != nil {
		return err
	}
	s.state = stateStarted
	return nil
}

// Stop disposes every sink, waits for in-flight events and internal
// streams, then stops the pools event-loop first. It is bounded by ctx and
// the shutdown timeout; overrunning them is logged, not returned. Stop is
// idempotent.
func (s *Strategy) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case stateCreated:
		s.state = stateStopped
		s.mu.Unlock()
		return nil
	case stateInitialised, stateStarted:
		s.state = stateStopped
	}
	lc := s.lc
	s.mu.Unlock()

	if lc == nil {
		return nil
	}
	s.sinks.Range(func(_ string, sink *Sink) bool {
		sink.Dispose()
		return true
	})
	s.admission.Close()
	return lc.Stop(ctx)
}

// Dispose stops the strategy and releases it. Only Dispose may be called
// afterwards.
func (s *Strategy) Dispose(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = stateDisposed
	s.mu.Unlock()
	return nil
}

// CreateSink creates the ingress for chain. The strategy is initialised if
// needed; events are only accepted once it is started.
func (s *Strategy) CreateSink(chain *Chain, opts ...SinkOption) (*Sink, error) {
	if chain == nil {
		return nil, ErrEmptyChain
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initialiseLocked(); err != nil {
		return nil, err
	}

	cfg := sinkConfig{policy: s.opts.backpressure, name: chain.Name()}
	for _, opt := range opts {
		opt(&cfg)
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	sink := &Sink{
		name:        cfg.name,
		chain:       chain,
		policy:      cfg.policy,
		requiresHop: s.variant != VariantDirect || s.classifier.RequiresHop(chain),
		guard:       txn.NewGuard(chain.Name()),
		admission:   s.admission,
		dispatcher:  s.dispatcher,
		loop:        s.classifier.EventLoop(),
		retry:       s.opts.retry,
		logger:      s.logger.With(slog.String("sink", cfg.name)),
		metrics:     s.dispatcher.metrics,
		ctx:         ctx,
		cancel:      cancel,
		onDispose:   func() { s.sinks.Delete(id) },
	}
	s.sinks.Register(id, sink)
	return sink, nil
}

// RegisterInternalSink makes Stop wait for sink to drain before any pool
// stops. Names must be unique among streams still draining.
func (s *Strategy) RegisterInternalSink(sink InternalSink, name string) error {
	lc, err := s.controller()
	if err != nil {
		return err
	}
	return lc.Track(name, sink)
}

// ConfigureInternalPublisher forwards in through the returned channel and
// keeps Stop waiting until in is closed and fully forwarded.
func (s *Strategy) ConfigureInternalPublisher(name string, in <-chan *event.Event) (<-chan *event.Event, error) {
	done := make(doneStream)
	if err := s.RegisterInternalSink(done, name); err != nil {
		return nil, err
	}

	out := make(chan *event.Event)
	go func() {
		defer close(done)
		defer close(out)
		for ev := range in {
			out <- ev
		}
	}()
	return out, nil
}

// Dispatcher returns the dispatcher, or nil before Initialise.
func (s *Strategy) Dispatcher() *Dispatcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatcher
}

// Classifier returns the classifier, or nil before Initialise.
func (s *Strategy) Classifier() *Classifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.classifier
}

// Stats is a snapshot of a strategy.
type Stats struct {
	Variant        Variant
	Phase          lifecycle.Phase
	Pools          map[string]pool.Stats
	Admission      admission.Stats
	InFlight       int
	Sinks          int
	PendingStreams []string
}

// Stats returns a snapshot of pools, admission and streams.
func (s *Strategy) Stats() Stats {
	s.mu.Lock()
	lc, adm, d := s.lc, s.admission, s.dispatcher
	s.mu.Unlock()

	st := Stats{Variant: s.variant, Sinks: s.sinks.Len()}
	if lc == nil {
		return st
	}
	st.Phase = lc.Phase()
	st.Pools = lc.Stats()
	st.Admission = adm.Stats()
	st.InFlight = d.InFlight()
	st.PendingStreams = lc.Pending()
	return st
}

func (s *Strategy) controller() (*lifecycle.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initialiseLocked(); err != nil {
		return nil, err
	}
	return s.lc, nil
}

// drain waits for every in-flight event to settle.
func (s *Strategy) drain(ctx context.Context) error {
	return s.dispatcher.WaitIdle(ctx)
}

type doneStream chan struct{}

func (d doneStream) Done() <-chan struct{} {
	return d
}
