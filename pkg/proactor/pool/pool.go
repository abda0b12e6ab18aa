// Package pool provides the bounded worker pools that execute pipeline
// stages.
//
// A Pool accepts tasks without ever blocking the submitter: a task either
// lands in the bounded queue or the submission is refused with ErrRejected.
// Pools move through a one-way lifecycle CREATED → STARTED → STOPPING →
// STOPPED and are never restarted.
package pool

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for pool operations.
var (
	// ErrRejected indicates the pool refused a task because its queue is full.
	// Rejection is transient; callers may resubmit later.
	ErrRejected = errors.New("pool rejected task")

	// ErrNotRunning indicates the pool is not in the STARTED state.
	ErrNotRunning = errors.New("pool not running")

	// ErrAlreadyStarted indicates Start was called on a pool past CREATED.
	ErrAlreadyStarted = errors.New("pool already started")

	// ErrStopTimeout indicates workers did not finish before the stop deadline.
	ErrStopTimeout = errors.New("pool stop timed out")
)

// State is the lifecycle state of a pool.
type State int32

const (
	StateCreated State = iota
	StateStarted
	StateStopping
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Task is a unit of work run by a pool. The context identifies the worker
// executing it; see CurrentWorker.
type Task func(ctx context.Context)

// Pool is a named execution resource with a bounded queue.
// Implementations must be safe for concurrent use.
type Pool interface {
	// Name identifies the pool in logs, metrics and worker identities.
	Name() string

	// Submit enqueues task without blocking. It returns an error wrapping
	// ErrRejected when the queue is full and ErrNotRunning when the pool is
	// not started.
	Submit(task Task) error

	// Parallelism is the number of tasks the pool can run at once.
	Parallelism() int

	// Start transitions CREATED → STARTED.
	Start() error

	// Stop transitions STARTED → STOPPING → STOPPED. Queued tasks still run.
	// Stop blocks until workers exit or ctx ends. Stopping a pool that was
	// never started moves it straight to STOPPED. Stop is idempotent.
	Stop(ctx context.Context) error

	// State returns the current lifecycle state.
	State() State

	// Stats returns a snapshot of pool counters.
	Stats() Stats
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Name          string
	State         State
	Parallelism   int
	QueueCapacity int
	Queued        int
	Active        int64
	Completed     uint64
	Rejected      uint64
}

// RejectedError carries the pool name for a refused submission.
type RejectedError struct {
	Pool  string
	Cause error
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	return fmt.Sprintf("pool %s: %v", e.Pool, e.Cause)
}

// Unwrap returns the cause (ErrRejected or ErrNotRunning).
func (e *RejectedError) Unwrap() error {
	return e.Cause
}

// Worker identifies the goroutine executing a task.
type Worker struct {
	// Pool is the name of the owning pool.
	Pool string
	// ID is the worker index inside the pool.
	ID int
}

// String returns "pool/id".
func (w Worker) String() string {
	return fmt.Sprintf("%s/%d", w.Pool, w.ID)
}

type workerKey struct{}

// WithWorker returns a context that identifies w as the executing worker.
func WithWorker(ctx context.Context, w Worker) context.Context {
	return context.WithValue(ctx, workerKey{}, w)
}

// CurrentWorker returns the worker executing the task that received ctx.
func CurrentWorker(ctx context.Context) (Worker, bool) {
	w, ok := ctx.Value(workerKey{}).(Worker)
	return w, ok
}
