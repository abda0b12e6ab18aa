package pool

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Config configures a WorkerPool.
type Config struct {
	// Name identifies the pool.
	Name string

	// Workers is the number of worker goroutines (parallelism).
	// Default: 1
	Workers int

	// QueueSize is the capacity of the task queue.
	// 0 means direct hand-off: a task is accepted only if a worker is idle.
	QueueSize int

	// Logger receives recovered task panics. Default: slog.Default().
	Logger *slog.Logger
}

// WorkerPool is a fixed-size goroutine pool with a bounded queue.
type WorkerPool struct {
	name    string
	workers int
	logger  *slog.Logger

	// mu orders Submit against the STARTED → STOPPING transition so no
	// task is enqueued after workers were told to drain.
	mu    sync.RWMutex
	state atomic.Int32
	queue chan Task
	quit  chan struct{}
	wg    sync.WaitGroup
	done  chan struct{}

	active    atomic.Int64
	completed atomic.Uint64
	rejected  atomic.Uint64
}

var _ Pool = (*WorkerPool)(nil)

// New creates a WorkerPool in the CREATED state.
func New(cfg Config) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WorkerPool{
		name:    cfg.Name,
		workers: cfg.Workers,
		logger:  cfg.Logger,
		queue:   make(chan Task, cfg.QueueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Name implements Pool.
func (p *WorkerPool) Name() string {
	return p.name
}

// Parallelism implements Pool.
func (p *WorkerPool) Parallelism() int {
	return p.workers
}

// State implements Pool.
func (p *WorkerPool) State() State {
	return State(p.state.Load())
}

// Start implements Pool.
func (p *WorkerPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State() != StateCreated {
		return ErrAlreadyStarted
	}
	for i := range p.workers {
		p.wg.Add(1)
		go p.work(i)
	}
	p.state.Store(int32(StateStarted))
	return nil
}

// Submit implements Pool.
func (p *WorkerPool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.State() != StateStarted {
		return &RejectedError{Pool: p.name, Cause: ErrNotRunning}
	}
	select {
	case p.queue <- task:
		return nil
	default:
		p.rejected.Add(1)
		return &RejectedError{Pool: p.name, Cause: ErrRejected}
	}
}

// Stop implements Pool.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	switch p.State() {
	case StateCreated:
		p.state.Store(int32(StateStopped))
		close(p.done)
		p.mu.Unlock()
		return nil
	case StateStarted:
		p.state.Store(int32(StateStopping))
		close(p.quit)
		go func() {
			p.wg.Wait()
			p.state.Store(int32(StateStopped))
			close(p.done)
		}()
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ErrStopTimeout
	}
}

// Stats implements Pool.
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Name:          p.name,
		State:         p.State(),
		Parallelism:   p.workers,
		QueueCapacity: cap(p.queue),
		Queued:        len(p.queue),
		Active:        p.active.Load(),
		Completed:     p.completed.Load(),
		Rejected:      p.rejected.Load(),
	}
}

func (p *WorkerPool) work(id int) {
	defer p.wg.Done()
	ctx := WithWorker(context.Background(), Worker{Pool: p.name, ID: id})
	for {
		select {
		case task := <-p.queue:
			p.run(ctx, task)
		case <-p.quit:
			// Drain what was accepted before the quit signal.
			for {
				select {
				case task := <-p.queue:
					p.run(ctx, task)
				default:
					return
				}
			}
		}
	}
}

func (p *WorkerPool) run(ctx context.Context, task Task) {
	p.active.Add(1)
	defer func() {
		p.active.Add(-1)
		p.completed.Add(1)
		if r := recover(); r != nil {
			p.logger.Error("pool task panicked",
				slog.String("pool", p.name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	task(ctx)
}
