package pool

import (
	"context"
	"sync/atomic"
)

// CallerWorker is the worker identity reported for tasks run by CallerRuns.
var CallerWorker = Worker{Pool: "caller", ID: 0}

// CallerRuns is a Pool that runs every task synchronously on the
// submitting goroutine. It owns no goroutines and has no queue, so it
// never rejects while started. It backs the Direct strategy variant.
type CallerRuns struct {
	state     atomic.Int32
	completed atomic.Uint64
}

var _ Pool = (*CallerRuns)(nil)

// NewCallerRuns returns a CallerRuns pool in the CREATED state.
func NewCallerRuns() *CallerRuns {
	return &CallerRuns{}
}

// Name implements Pool.
func (c *CallerRuns) Name() string {
	return CallerWorker.Pool
}

// Parallelism implements Pool. The caller's goroutine is the only worker.
func (c *CallerRuns) Parallelism() int {
	return 1
}

// State implements Pool.
func (c *CallerRuns) State() State {
	return State(c.state.Load())
}

// Start implements Pool.
func (c *CallerRuns) Start() error {
	if !c.state.CompareAndSwap(int32(StateCreated), int32(StateStarted)) {
		return ErrAlreadyStarted
	}
	return nil
}

// Submit runs task before returning.
func (c *CallerRuns) Submit(task Task) error {
	if c.State() != StateStarted {
		return &RejectedError{Pool: c.Name(), Cause: ErrNotRunning}
	}
	defer c.completed.Add(1)
	task(WithWorker(context.Background(), CallerWorker))
	return nil
}

// Stop implements Pool.
func (c *CallerRuns) Stop(_ context.Context) error {
	c.state.Store(int32(StateStopped))
	return nil
}

// Stats implements Pool.
func (c *CallerRuns) Stats() Stats {
	return Stats{
		Name:        c.Name(),
		State:       c.State(),
		Parallelism: 1,
		Completed:   c.completed.Load(),
	}
}
