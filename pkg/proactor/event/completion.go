package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Status is the terminal state of an event.
type Status int

const (
	// StatusPending means the event has not reached a terminal state.
	StatusPending Status = iota

	// StatusSucceeded means every stage of the chain completed.
	StatusSucceeded

	// StatusFailed means a stage, the dispatcher or admission failed the event.
	StatusFailed

	// StatusCancelled means the event was cancelled before the chain finished.
	StatusCancelled
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ErrPending is returned by Wait when the context ends before the event
// reaches a terminal state.
var ErrPending = errors.New("event still pending")

// Outcome describes how an event finished.
type Outcome struct {
	// Status is the terminal status.
	Status Status
	// Event is the last derived event (the chain result on success).
	Event *Event
	// Err is set for failed and cancelled outcomes.
	Err error
	// CompletedAt is when the terminal transition happened.
	CompletedAt time.Time
}

// Completion is the completion context of an event. It transitions to a
// terminal state exactly once; concurrent Complete, Fail and Cancel calls
// race and only the first one wins.
type Completion struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	source *Event

	terminal atomic.Bool
	mu       sync.Mutex
	hooks    []func(Outcome)
	outcome  Outcome
	done     chan struct{}
}

func newCompletion(parent context.Context, source *Event) *Completion {
	ctx, cancel := context.WithCancelCause(parent)
	return &Completion{
		ctx:    ctx,
		cancel: cancel,
		source: source,
		done:   make(chan struct{}),
	}
}

// Complete marks the event as succeeded with ev as the final result.
// Returns false if the completion was already terminal.
func (c *Completion) Complete(ev *Event) bool {
	if ev == nil {
		ev = c.source
	}
	return c.finish(Outcome{Status: StatusSucceeded, Event: ev})
}

// Fail marks the event as failed with err.
// Returns false if the completion was already terminal.
func (c *Completion) Fail(err error) bool {
	return c.finish(Outcome{Status: StatusFailed, Event: c.source, Err: err})
}

// Cancel marks the event as cancelled and cancels its context.
// Returns false if the completion was already terminal.
func (c *Completion) Cancel() bool {
	cause := context.Cause(c.ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return c.finish(Outcome{Status: StatusCancelled, Event: c.source, Err: cause})
}

// IsTerminal reports whether the completion has fired.
func (c *Completion) IsTerminal() bool {
	return c.terminal.Load()
}

// IsCancelled reports whether the event was cancelled or its context ended.
func (c *Completion) IsCancelled() bool {
	if c.terminal.Load() {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.outcome.Status == StatusCancelled
	}
	return c.ctx.Err() != nil
}

// OnTerminal registers fn to run once when the completion fires. Hooks run
// in registration order on the goroutine that completes the event. If the
// completion is already terminal, fn runs immediately.
func (c *Completion) OnTerminal(fn func(Outcome)) {
	c.mu.Lock()
	if c.terminal.Load() {
		o := c.outcome
		c.mu.Unlock()
		fn(o)
		return
	}
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// Done returns a channel closed after the completion fired and its hooks ran.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Outcome returns the terminal outcome, or a pending outcome.
func (c *Completion) Outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.terminal.Load() {
		return Outcome{Status: StatusPending, Event: c.source}
	}
	return c.outcome
}

// Wait blocks until the completion fires or ctx ends.
func (c *Completion) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-c.done:
		return c.Outcome(), nil
	case <-ctx.Done():
		return Outcome{Status: StatusPending, Event: c.source}, errors.Join(ErrPending, ctx.Err())
	}
}

func (c *Completion) finish(o Outcome) bool {
	c.mu.Lock()
	if c.terminal.Load() {
		c.mu.Unlock()
		return false
	}
	o.CompletedAt = time.Now()
	c.outcome = o
	c.terminal.Store(true)
	hooks := c.hooks
	c.hooks = nil
	c.mu.Unlock()

	if o.Status == StatusCancelled {
		c.cancel(o.Err)
	}
	for _, h := range hooks {
		h(o)
	}
	c.cancel(nil)
	close(c.done)
	return true
}
