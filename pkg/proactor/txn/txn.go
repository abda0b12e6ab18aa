// Package txn binds transactions to an execution context and rejects
// dispatch plans that would move a transactional event off the caller's
// goroutine.
//
// A transaction's goroutine affinity cannot survive a hand-off to another
// pool, so any plan containing a hop fails fast with ErrTransactional.
// Plans that run every stage on the caller are accepted.
package txn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrTransactional indicates a dispatch plan is incompatible with the
// transaction bound to the execution context.
var ErrTransactional = errors.New("transactional context cannot be dispatched across pools")

// Transaction describes a transaction bound to an execution context.
type Transaction struct {
	// ID uniquely identifies the transaction.
	ID string

	// Resource names the transactional resource (a datasource, a queue).
	Resource string

	// StartedAt is when the transaction began.
	StartedAt time.Time
}

type txnKey struct{}

// Begin starts a transaction on resource and binds it to a child of ctx.
func Begin(ctx context.Context, resource string) (context.Context, *Transaction) {
	tx := &Transaction{
		ID:        uuid.New().String(),
		Resource:  resource,
		StartedAt: time.Now(),
	}
	return Bind(ctx, tx), tx
}

// Bind returns a child of ctx carrying tx.
func Bind(ctx context.Context, tx *Transaction) context.Context {
	return context.WithValue(ctx, txnKey{}, tx)
}

// FromContext returns the transaction bound to ctx, if any.
func FromContext(ctx context.Context) (*Transaction, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txnKey{}).(*Transaction)
	return tx, ok && tx != nil
}

// TransactionalError reports a rejected dispatch plan.
type TransactionalError struct {
	// Transaction is the bound transaction.
	Transaction *Transaction

	// Pipeline names the chain that was rejected.
	Pipeline string
}

// Error implements the error interface.
func (e *TransactionalError) Error() string {
	return fmt.Sprintf("pipeline %s: transaction %s on %s: %v",
		e.Pipeline, e.Transaction.ID, e.Transaction.Resource, ErrTransactional)
}

// Unwrap returns ErrTransactional.
func (e *TransactionalError) Unwrap() error {
	return ErrTransactional
}

// Guard checks dispatch plans against bound transactions.
type Guard struct {
	pipeline string
}

// NewGuard creates a Guard for the named pipeline.
func NewGuard(pipeline string) Guard {
	return Guard{pipeline: pipeline}
}

// CheckCompatible fails when a transaction is bound to ctx and the plan
// requires a hop. It never fails when no transaction is bound.
func (g Guard) CheckCompatible(ctx context.Context, requiresHop bool) error {
	tx, ok := FromContext(ctx)
	if !ok || !requiresHop {
		return nil
	}
	return &TransactionalError{Transaction: tx, Pipeline: g.pipeline}
}
