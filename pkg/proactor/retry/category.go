// Package retry decides whether a failed submission is worth repeating and
// how long to wait before the next attempt.
//
// Pool rejection is the only transient failure the engine knows about: a
// full queue may drain. Everything else (a stopped pool, admission limits,
// a bound transaction, cancellation) is structural and is never retried.
package retry

import (
	"context"
	"errors"

	"github.com/randalmurphal/proactor/pkg/proactor/pool"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates a retry will likely help.
	// Example: a pool queue that is momentarily full.
	CategoryTransient Category = iota

	// CategoryPermanent indicates a retry won't help.
	// Examples: a stopped pool, a bound transaction, a cancelled event.
	CategoryPermanent
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// transient is implemented by errors that know their own category.
type transient interface {
	Transient() bool
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	// Cancellation wins over anything it wraps.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryPermanent
	}
	if errors.Is(err, pool.ErrNotRunning) {
		return CategoryPermanent
	}
	if errors.Is(err, pool.ErrRejected) {
		return CategoryTransient
	}

	var t transient
	if errors.As(err, &t) && t.Transient() {
		return CategoryTransient
	}

	// Unknown errors are permanent (fail safe)
	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
