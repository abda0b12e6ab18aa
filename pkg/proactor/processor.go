package proactor

import (
	"fmt"

	"github.com/randalmurphal/proactor/pkg/proactor/event"
	"github.com/randalmurphal/proactor/pkg/proactor/pool"
)

// Processor is one stage of a chain.
//
// Process receives the event produced by the previous stage and returns the
// event handed to the next one. Returning a nil event passes the input
// through unchanged. A returned error fails the event.
type Processor interface {
	// Name identifies the stage in logs, metrics, spans and the journal.
	Name() string

	// ProcessingType decides the pool the stage runs on.
	ProcessingType() ProcessingType

	// Process runs the stage.
	Process(ctx Context, ev *event.Event) (*event.Event, error)
}

// PoolProvider is implemented by Custom processors to supply their pool.
// The pool's lifecycle belongs to the processor's owner, not the strategy.
type PoolProvider interface {
	Pool() pool.Pool
}

// ProcessFunc adapts a function to a stage body.
type ProcessFunc func(ctx Context, ev *event.Event) (*event.Event, error)

type funcProcessor struct {
	name string
	typ  ProcessingType
	fn   ProcessFunc
}

// NewProcessor creates a processor from a function.
func NewProcessor(name string, typ ProcessingType, fn ProcessFunc) Processor {
	return &funcProcessor{name: name, typ: typ, fn: fn}
}

func (p *funcProcessor) Name() string                   { return p.name }
func (p *funcProcessor) ProcessingType() ProcessingType { return p.typ }

func (p *funcProcessor) Process(ctx Context, ev *event.Event) (*event.Event, error) {
	return p.fn(ctx, ev)
}

type customProcessor struct {
	funcProcessor
	pool pool.Pool
}

// NewCustomProcessor creates a Custom processor that runs on p.
func NewCustomProcessor(name string, p pool.Pool, fn ProcessFunc) Processor {
	return &customProcessor{
		funcProcessor: funcProcessor{name: name, typ: Custom, fn: fn},
		pool:          p,
	}
}

// Pool implements PoolProvider.
func (p *customProcessor) Pool() pool.Pool {
	return p.pool
}

// Chain is an ordered, immutable list of processors run against each event.
type Chain struct {
	name   string
	stages []Processor
}

// NewChain validates and builds a chain. Every Custom processor must
// implement PoolProvider with a non-nil pool.
func NewChain(name string, stages ...Processor) (*Chain, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("chain %s: %w", name, ErrEmptyChain)
	}
	for i, p := range stages {
		if p == nil {
			return nil, fmt.Errorf("chain %s: stage %d is nil", name, i)
		}
		if p.ProcessingType() != Custom {
			continue
		}
		pp, ok := p.(PoolProvider)
		if !ok || pp.Pool() == nil {
			return nil, fmt.Errorf("chain %s: stage %s: %w", name, p.Name(), ErrCustomPoolMissing)
		}
	}
	return &Chain{name: name, stages: append([]Processor(nil), stages...)}, nil
}

// MustChain is like NewChain but panics on error.
func MustChain(name string, stages ...Processor) *Chain {
	c, err := NewChain(name, stages...)
	if err != nil {
		panic(err)
	}
	return c
}

// Name returns the pipeline name.
func (c *Chain) Name() string {
	return c.name
}

// Len returns the number of stages.
func (c *Chain) Len() int {
	return len(c.stages)
}

// Stage returns the processor at index i.
func (c *Chain) Stage(i int) Processor {
	return c.stages[i]
}

// Stages returns a copy of the processors in order.
func (c *Chain) Stages() []Processor {
	return append([]Processor(nil), c.stages...)
}
