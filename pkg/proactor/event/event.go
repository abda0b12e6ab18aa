// Package event defines the unit of work that flows through a proactor
// pipeline and the completion context that reports its terminal outcome.
//
// An Event is immutable from the pipeline's point of view. Stages never
// modify an event in place; they derive a new one with WithPayload or
// WithMetadata. Every event derived from the same source shares one
// Completion, so the outcome fires once for the whole chain.
package event

import (
	"context"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Event is one unit of work handled by a pipeline.
type Event struct {
	id         string
	payload    any
	metadata   map[string]string
	createdAt  time.Time
	completion *Completion
}

// Option configures an Event at creation time.
type Option func(*Event)

// WithID sets the event identifier. If not set, a UUID is generated.
func WithID(id string) Option {
	return func(e *Event) {
		if id != "" {
			e.id = id
		}
	}
}

// WithMetadataMap seeds the event metadata. The map is copied.
func WithMetadataMap(md map[string]string) Option {
	return func(e *Event) {
		e.metadata = maps.Clone(md)
	}
}

// New creates an event whose completion context is derived from ctx.
// Cancelling ctx does not complete the event by itself; the pipeline
// observes ctx through Context() and fails the event at its next check.
func New(ctx context.Context, payload any, opts ...Option) *Event {
	if ctx == nil {
		ctx = context.Background()
	}
	e := &Event{
		id:        uuid.New().String(),
		payload:   payload,
		createdAt: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.completion = newCompletion(ctx, e)
	return e
}

// ID returns the event identifier. Derived events keep the same ID.
func (e *Event) ID() string {
	return e.id
}

// Payload returns the event payload.
func (e *Event) Payload() any {
	return e.payload
}

// Metadata returns the value stored under key.
func (e *Event) Metadata(key string) (string, bool) {
	v, ok := e.metadata[key]
	return v, ok
}

// MetadataMap returns a copy of all metadata.
func (e *Event) MetadataMap() map[string]string {
	return maps.Clone(e.metadata)
}

// CreatedAt returns when the source created the event.
func (e *Event) CreatedAt() time.Time {
	return e.createdAt
}

// Completion returns the completion context shared by this event and
// every event derived from it.
func (e *Event) Completion() *Completion {
	return e.completion
}

// Context returns the event's execution context. It carries values bound
// by the source (such as a transaction) and is cancelled when the event
// is cancelled.
func (e *Event) Context() context.Context {
	return e.completion.ctx
}

// WithPayload derives a new event carrying payload.
func (e *Event) WithPayload(payload any) *Event {
	derived := *e
	derived.payload = payload
	return &derived
}

// WithMetadata derives a new event with key set to value.
func (e *Event) WithMetadata(key, value string) *Event {
	derived := *e
	derived.metadata = maps.Clone(e.metadata)
	if derived.metadata == nil {
		derived.metadata = make(map[string]string, 1)
	}
	derived.metadata[key] = value
	return &derived
}
