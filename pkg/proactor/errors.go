package proactor

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/proactor/pkg/proactor/admission"
	"github.com/randalmurphal/proactor/pkg/proactor/txn"
)

// Sentinel errors for dispatch and admission.
var (
	// ErrOverload indicates the engine could not take the work: a pool
	// stayed busy past the retry budget, or admission refused the event.
	// Producers may retry later.
	ErrOverload = errors.New("required scheduler busy")

	// ErrMaxConcurrencyExceeded indicates the in-flight ceiling was reached.
	ErrMaxConcurrencyExceeded = admission.ErrMaxConcurrencyExceeded

	// ErrTransactional indicates a hop was required while a transaction is
	// bound to the event's context.
	ErrTransactional = txn.ErrTransactional
)

// Sentinel errors for chains, sinks and strategies.
var (
	// ErrEmptyChain indicates NewChain was called without processors.
	ErrEmptyChain = errors.New("chain has no processors")

	// ErrCustomPoolMissing indicates a Custom processor supplies no pool.
	ErrCustomPoolMissing = errors.New("custom processor supplies no pool")

	// ErrNilEvent indicates Accept was called with a nil event.
	ErrNilEvent = errors.New("event cannot be nil")

	// ErrSinkDisposed indicates the sink no longer accepts events.
	ErrSinkDisposed = errors.New("sink disposed")

	// ErrStrategyStopped indicates the strategy was stopped and cannot
	// be started again or create sinks.
	ErrStrategyStopped = errors.New("strategy stopped")

	// ErrStrategyDisposed indicates the strategy was disposed.
	ErrStrategyDisposed = errors.New("strategy disposed")
)

// StageError wraps an error with stage context.
type StageError struct {
	// Stage is the name of the processor that failed.
	Stage string
	// Pool is the pool the stage ran on or was submitted to.
	Pool string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s on %s: %v", e.Stage, e.Pool, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StageError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic raised by a processor.
type PanicError struct {
	// Stage is the name of the processor that panicked.
	Stage string
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("stage %s panicked: %v", e.Stage, e.Value)
}

// CancellationError reports an event cancelled before a stage ran.
type CancellationError struct {
	// Stage is the stage that was about to run.
	Stage string
	// Cause is context.Canceled or the cancellation cause.
	Cause error
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	return fmt.Sprintf("cancelled before stage %s: %v", e.Stage, e.Cause)
}

// Unwrap returns the cause for errors.Is/As support.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// OverloadError reports a submission that stayed rejected after the retry
// budget was spent.
type OverloadError struct {
	// Pipeline names the chain.
	Pipeline string
	// Stage is the stage being submitted, or "ingress".
	Stage string
	// Pool is the pool that kept rejecting.
	Pool string
	// Attempts is the number of submissions made.
	Attempts int
	// Last is the final rejection.
	Last error
}

// Error implements the error interface.
func (e *OverloadError) Error() string {
	return fmt.Sprintf("pipeline %s: stage %s: pool %s busy after %d attempts: %v",
		e.Pipeline, e.Stage, e.Pool, e.Attempts, ErrOverload)
}

// Unwrap exposes ErrOverload and the last rejection.
func (e *OverloadError) Unwrap() []error {
	return []error{ErrOverload, e.Last}
}

// Transient reports that the producer may retry.
func (e *OverloadError) Transient() bool {
	return true
}

// AdmissionError reports an event refused by admission control. FAIL and
// DROP sinks return the same error; telling them apart is up to the source.
type AdmissionError struct {
	// Pipeline names the chain.
	Pipeline string
	// Policy is the sink's backpressure policy.
	Policy Backpressure
	// Reason is the admission error, usually wrapping
	// ErrMaxConcurrencyExceeded.
	Reason error
}

// Error implements the error interface.
func (e *AdmissionError) Error() string {
	return fmt.Sprintf("pipeline %s: event rejected (%s): %v", e.Pipeline, e.Policy, e.Reason)
}

// Unwrap exposes ErrOverload and the admission reason.
func (e *AdmissionError) Unwrap() []error {
	return []error{ErrOverload, e.Reason}
}
