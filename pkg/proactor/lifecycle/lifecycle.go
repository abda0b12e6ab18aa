// Package lifecycle owns the worker pools of one strategy and shuts them
// down in a fixed order once every internal work stream has drained.
//
// Pools start cpu-intensive first and event-loop last, and stop in the
// reverse order: event-loop, blocking, cpu-intensive. Stopping the
// event-loop pool first guarantees that a stage finishing on a blocking or
// cpu-intensive worker can never resume onto an event-loop pool that is
// already gone; its continuation is refused instead.
//
// Shutdown is best effort. A phase that overruns the shutdown deadline is
// logged and the next phase runs anyway.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randalmurphal/proactor/pkg/proactor/observability"
	"github.com/randalmurphal/proactor/pkg/proactor/pool"
	"github.com/randalmurphal/proactor/pkg/proactor/registry"
)

// Sentinel errors for lifecycle operations.
var (
	// ErrShutdownTimeout is logged when a shutdown phase overruns its
	// deadline. It is never returned.
	ErrShutdownTimeout = errors.New("shutdown timed out")

	// ErrStreamExists indicates a stream name is already tracked.
	ErrStreamExists = errors.New("internal stream already registered")

	// ErrStopping indicates the controller no longer accepts registrations.
	ErrStopping = errors.New("lifecycle controller stopping")

	// ErrStarted indicates pools can no longer be added.
	ErrStarted = errors.New("lifecycle controller already started")
)

// Role is the processing role a managed pool plays.
type Role int

const (
	// RoleEventLoop runs event-loop stages and every continuation.
	RoleEventLoop Role = iota

	// RoleBlocking runs blocking and io stages, and journal writes.
	RoleBlocking

	// RoleCPUIntensive runs cpu-intensive stages.
	RoleCPUIntensive
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleEventLoop:
		return "event_loop"
	case RoleBlocking:
		return "blocking"
	case RoleCPUIntensive:
		return "cpu_intensive"
	default:
		return "unknown"
	}
}

// StopOrder is the order in which managed pools stop.
var StopOrder = []Role{RoleEventLoop, RoleBlocking, RoleCPUIntensive}

// Phase is the controller's lifecycle state.
type Phase int32

const (
	// PhaseCreated means pools may still be added.
	PhaseCreated Phase = iota

	// PhaseStarted means every managed pool was started.
	PhaseStarted

	// PhaseStopping means Stop is draining events, streams and pools.
	PhaseStopping

	// PhaseStopped means Stop has finished. Streams it gave up on may
	// still be pending.
	PhaseStopped
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseStarted:
		return "started"
	case PhaseStopping:
		return "stopping"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stream is a long-lived internal work stream. Done is closed once the
// stream has fully drained.
type Stream interface {
	Done() <-chan struct{}
}

// Config configures a Controller.
type Config struct {
	// ShutdownTimeout bounds the whole Stop sequence. 0 means only the
	// caller's context bounds it.
	ShutdownTimeout time.Duration

	// Drain runs first during Stop, before streams are awaited. Strategies
	// use it to wait for in-flight events.
	Drain func(ctx context.Context) error

	// Logger receives lifecycle logs. Default: slog.Default().
	Logger *slog.Logger
}

// Controller owns a strategy's pools and internal streams.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	pools map[Role]pool.Pool
	phase atomic.Int32

	streams  *registry.Registry[string, Stream]
	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a Controller with no pools.
func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		cfg:     cfg,
		logger:  cfg.Logger,
		pools:   make(map[Role]pool.Pool, len(StopOrder)),
		streams: registry.New[string, Stream](),
		stopped: make(chan struct{}),
	}
}

// Manage hands ownership of p to the controller under role.
func (c *Controller) Manage(role Role, p pool.Pool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Phase() != PhaseCreated {
		return ErrStarted
	}
	c.pools[role] = p
	return nil
}

// Pool returns the pool managed under role.
func (c *Controller) Pool(role Role) (pool.Pool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pools[role]
	return p, ok
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	return Phase(c.phase.Load())
}

// Start starts managed pools cpu-intensive first. It is idempotent.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Phase() != PhaseCreated {
		return nil
	}
	for _, role := range slices.Backward(StopOrder) {
		p, ok := c.pools[role]
		if !ok {
			continue
		}
		// A pool may serve more than one role.
		if err := p.Start(); err != nil && !errors.Is(err, pool.ErrAlreadyStarted) {
			return fmt.Errorf("start %s pool %s: %w", role, p.Name(), err)
		}
		observability.LogPoolStarted(c.logger, role.String(), p.Name(), p.Parallelism())
	}
	c.phase.Store(int32(PhaseStarted))
	return nil
}

// Track registers a stream that must drain before any pool stops. The
// registration is removed when the stream's Done channel closes. A stream
// still open when Stop finishes is abandoned.
func (c *Controller) Track(name string, s Stream) error {
	if c.Phase() >= PhaseStopping {
		return ErrStopping
	}
	if err := c.streams.Add(name, s); err != nil {
		return fmt.Errorf("%w: %s", ErrStreamExists, name)
	}
	observability.LogStreamRegistered(c.logger, name)

	go func() {
		select {
		case <-s.Done():
		case <-c.stopped:
			// Stop gave up on the stream; it stays listed in Pending.
			select {
			case <-s.Done():
			default:
				observability.LogStreamAbandoned(c.logger, name)
				return
			}
		}
		c.streams.Delete(name)
		observability.LogStreamCompleted(c.logger, name)
	}()
	return nil
}

// Pending returns the names of streams that have not drained yet.
func (c *Controller) Pending() []string {
	names := c.streams.Keys()
	slices.Sort(names)
	return names
}

// Stop drains, waits for every tracked stream, then stops pools in
// StopOrder. Timeouts are logged, never returned. Concurrent and repeated
// calls wait for the first one to finish or for their own ctx.
func (c *Controller) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.phase.Store(int32(PhaseStopping))
		go func() {
			c.stop(ctx)
			c.phase.Store(int32(PhaseStopped))
			close(c.stopped)
		}()
	})

	select {
	case <-c.stopped:
	case <-ctx.Done():
	}
	return nil
}

// Done is closed when Stop has finished.
func (c *Controller) Done() <-chan struct{} {
	return c.stopped
}

func (c *Controller) stop(parent context.Context) {
	ctx := context.WithoutCancel(parent)
	cancel := func() {}
	if deadline, ok := parent.Deadline(); ok {
		ctx, cancel = context.WithDeadline(ctx, deadline)
	}
	defer cancel()
	if c.cfg.ShutdownTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, c.cfg.ShutdownTimeout)
		defer cancelTimeout()
	}

	if c.cfg.Drain != nil {
		if err := c.cfg.Drain(ctx); err != nil {
			observability.LogShutdownTimeout(c.logger, "drain", nil, errors.Join(ErrShutdownTimeout, err))
		}
	}

	if err := c.streams.WaitEmpty(ctx); err != nil {
		observability.LogShutdownTimeout(c.logger, "streams", c.Pending(), errors.Join(ErrShutdownTimeout, err))
	}

	c.mu.Lock()
	pools := make([]pool.Pool, 0, len(StopOrder))
	roles := make([]Role, 0, len(StopOrder))
	for _, role := range StopOrder {
		if p, ok := c.pools[role]; ok {
			pools = append(pools, p)
			roles = append(roles, role)
		}
	}
	c.mu.Unlock()

	for i, p := range pools {
		done := observability.TimedOperation()
		if err := p.Stop(ctx); err != nil {
			observability.LogShutdownTimeout(c.logger, "pool "+roles[i].String(), []string{p.Name()},
				errors.Join(ErrShutdownTimeout, err))
			continue
		}
		observability.LogPoolStopped(c.logger, roles[i].String(), p.Name(), done())
	}
}

// Stats returns a snapshot of every managed pool keyed by role name.
func (c *Controller) Stats() map[string]pool.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]pool.Stats, len(c.pools))
	for role, p := range c.pools {
		out[role.String()] = p.Stats()
	}
	return out
}
