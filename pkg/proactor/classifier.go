package proactor

import (
	"github.com/randalmurphal/proactor/pkg/proactor/pool"
)

// Pools are the pools a Classifier routes to. Blocking and CPUIntensive
// may be nil for the Direct variant.
type Pools struct {
	EventLoop    pool.Pool
	Blocking     pool.Pool
	CPUIntensive pool.Pool
}

// Classifier maps a processor to the pool it runs on.
type Classifier struct {
	pools          Pools
	direct         bool
	blockingInline bool
}

// ClassifierConfig configures a Classifier.
type ClassifierConfig struct {
	// Direct forces every processor onto the event-loop pool.
	Direct bool

	// InlineBlocking runs Blocking stages on the event-loop pool, provided
	// MaxConcurrency is bounded and fits the event-loop parallelism.
	InlineBlocking bool

	// MaxConcurrency is the admission ceiling, 0 meaning unlimited.
	MaxConcurrency int
}

// NewClassifier creates a Classifier over pools.
func NewClassifier(pools Pools, cfg ClassifierConfig) *Classifier {
	inline := cfg.InlineBlocking &&
		cfg.MaxConcurrency > 0 &&
		pools.EventLoop != nil &&
		cfg.MaxConcurrency <= pools.EventLoop.Parallelism()
	return &Classifier{
		pools:          pools,
		direct:         cfg.Direct,
		blockingInline: inline,
	}
}

// Classify returns the pool p runs on.
func (c *Classifier) Classify(p Processor) pool.Pool {
	if c.direct {
		return c.pools.EventLoop
	}
	switch p.ProcessingType() {
	case CPUIntensive:
		return c.pools.CPUIntensive
	case Blocking:
		if c.blockingInline {
			return c.pools.EventLoop
		}
		return c.pools.Blocking
	case BlockingAndEventLoop:
		return c.pools.Blocking
	case Custom:
		if pp, ok := p.(PoolProvider); ok && pp.Pool() != nil {
			return pp.Pool()
		}
		return c.pools.EventLoop
	default:
		return c.pools.EventLoop
	}
}

// IsEventLoop reports whether target is the event-loop pool.
func (c *Classifier) IsEventLoop(target pool.Pool) bool {
	return target == c.pools.EventLoop
}

// RequiresHop reports whether any stage of chain leaves the event-loop pool.
func (c *Classifier) RequiresHop(chain *Chain) bool {
	for _, p := range chain.stages {
		if !c.IsEventLoop(c.Classify(p)) {
			return true
		}
	}
	return false
}

// EventLoop returns the event-loop pool.
func (c *Classifier) EventLoop() pool.Pool {
	return c.pools.EventLoop
}
