// Package admission bounds how many events a strategy holds in flight.
//
// An event is admitted by incrementing a shared counter with
// compare-and-swap, never past the configured maximum, and released by a
// hook on its completion context. Completion hooks fire exactly once, so an
// admitted event decrements the counter exactly once no matter how many
// goroutines race to complete, fail or cancel it.
package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/randalmurphal/proactor/pkg/proactor/event"
)

var (
	// ErrMaxConcurrencyExceeded indicates the in-flight ceiling was reached.
	ErrMaxConcurrencyExceeded = errors.New("max concurrency exceeded")

	// ErrClosed indicates the controller no longer admits events.
	ErrClosed = errors.New("admission controller closed")
)

// Mode selects where admission is checked.
type Mode int

const (
	// ModeEager checks admission synchronously before the event enters the
	// chain; a rejected event never touches a pool.
	ModeEager Mode = iota

	// ModeLazy lets the event enter the chain and checks admission at the
	// first hand-off onto the event-loop pool.
	ModeLazy
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeEager:
		return "eager"
	case ModeLazy:
		return "lazy"
	default:
		return "unknown"
	}
}

// Config configures a Controller.
type Config struct {
	// Max is the in-flight ceiling. 0 means unlimited.
	Max int

	// Mode selects eager or lazy admission.
	Mode Mode
}

// Controller tracks in-flight events against a maximum.
type Controller struct {
	max  int64
	mode Mode

	inFlight atomic.Int64
	admitted atomic.Uint64
	rejected atomic.Uint64

	// holders maps the completion of every admitted event, so admitting
	// the same event twice never takes two slots.
	holders sync.Map

	// notify is closed and replaced on every release; waiters grab it
	// before trying so a release between try and wait is never missed.
	mu     sync.Mutex
	notify chan struct{}
	closed bool
}

// New creates a Controller.
func New(cfg Config) *Controller {
	if cfg.Max < 0 {
		cfg.Max = 0
	}
	return &Controller{
		max:    int64(cfg.Max),
		mode:   cfg.Mode,
		notify: make(chan struct{}),
	}
}

// Mode returns the configured mode.
func (c *Controller) Mode() Mode {
	return c.mode
}

// Max returns the ceiling, 0 if unlimited.
func (c *Controller) Max() int {
	return int(c.max)
}

// Limited reports whether a ceiling is configured.
func (c *Controller) Limited() bool {
	return c.max > 0
}

// InFlight returns the number of admitted events not yet terminal.
func (c *Controller) InFlight() int {
	return int(c.inFlight.Load())
}

// Admitted reports whether ev currently holds a slot.
func (c *Controller) Admitted(ev *event.Event) bool {
	_, ok := c.holders.Load(ev.Completion())
	return ok
}

// TryAdmit reserves a slot for ev without blocking. Admitting an event that
// already holds a slot is a no-op.
func (c *Controller) TryAdmit(ev *event.Event) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.tryAdmit(ev)
}

// Wait blocks until ev is admitted, ctx ends or the controller is closed.
func (c *Controller) Wait(ctx context.Context, ev *event.Event) error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}
		ch := c.notify
		c.mu.Unlock()

		err := c.tryAdmit(ev)
		if !errors.Is(err, ErrMaxConcurrencyExceeded) {
			return err
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return errors.Join(ctx.Err(), err)
		}
	}
}

// Close stops admitting events and wakes every waiter with ErrClosed.
// Events already admitted keep their slots until they complete.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.notify)
	c.notify = make(chan struct{})
}

// Stats is a snapshot of admission counters.
type Stats struct {
	Mode     Mode
	Max      int
	InFlight int
	Admitted uint64
	Rejected uint64
}

// Stats returns a snapshot of admission counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Mode:     c.mode,
		Max:      int(c.max),
		InFlight: c.InFlight(),
		Admitted: c.admitted.Load(),
		Rejected: c.rejected.Load(),
	}
}

func (c *Controller) tryAdmit(ev *event.Event) error {
	comp := ev.Completion()
	if _, loaded := c.holders.LoadOrStore(comp, struct{}{}); loaded {
		return nil
	}

	if cur, ok := c.acquire(); !ok {
		c.holders.Delete(comp)
		c.rejected.Add(1)
		return fmt.Errorf("%w: %d in flight, limit %d", ErrMaxConcurrencyExceeded, cur, c.max)
	}
	c.admitted.Add(1)

	comp.OnTerminal(func(event.Outcome) {
		c.holders.Delete(comp)
		c.release()
	})
	return nil
}

// acquire increments the counter unless it is at the ceiling.
func (c *Controller) acquire() (int64, bool) {
	for {
		cur := c.inFlight.Load()
		if c.max > 0 && cur >= c.max {
			return cur, false
		}
		if c.inFlight.CompareAndSwap(cur, cur+1) {
			return cur + 1, true
		}
	}
}

func (c *Controller) release() {
	c.inFlight.Add(-1)

	c.mu.Lock()
	close(c.notify)
	c.notify = make(chan struct{})
	c.mu.Unlock()
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
