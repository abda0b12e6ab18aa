// Package journal records the terminal outcome of every event a strategy
// handled. Writes happen after the event completed and never affect it.
package journal

import (
	"errors"
	"time"
)

// Record is the outcome of one event.
type Record struct {
	EventID     string
	Pipeline    string
	Status      string
	Error       string
	Stages      []string
	Duration    time.Duration
	CompletedAt time.Time
}

// Store persists outcome records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores a record, replacing any record with the same EventID.
	Save(rec Record) error

	// Load retrieves the record for an event.
	// Returns ErrNotFound if none exists.
	Load(eventID string) (Record, error)

	// List returns all records for a pipeline ordered by completion time.
	// Returns an empty slice (not error) if there are none.
	List(pipeline string) ([]Record, error)

	// Counts returns the number of records per status for a pipeline.
	Counts(pipeline string) (map[string]int, error)

	// Delete removes a record. Returns nil if it doesn't exist.
	Delete(eventID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for journal operations.
var (
	// ErrNotFound indicates a record doesn't exist.
	ErrNotFound = errors.New("journal record not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("journal store closed")
)
