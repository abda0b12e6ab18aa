package proactor

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/proactor/pkg/proactor/event"
	"github.com/randalmurphal/proactor/pkg/proactor/journal"
	"github.com/randalmurphal/proactor/pkg/proactor/observability"
	"github.com/randalmurphal/proactor/pkg/proactor/pool"
	"github.com/randalmurphal/proactor/pkg/proactor/retry"
)

// Continuation receives the result of one stage. ctx identifies the worker
// the continuation runs on. A successful result is always delivered on an
// event-loop worker; errors may be delivered from any goroutine.
type Continuation func(ctx context.Context, ev *event.Event, err error)

type dispatcherConfig struct {
	classifier *Classifier
	retry      retry.Config
	logger     *slog.Logger
	metrics    observability.MetricsRecorder
	spans      observability.SpanManager
	journal    journal.Store
	// writer runs journal writes off the event loop. Nil writes inline.
	writer pool.Pool
}

// Dispatcher runs stages on the pools the classifier picks and resumes
// chains on the event-loop pool. It never blocks the goroutine that
// dispatches: rejected submissions are retried from timers within the
// retry budget.
type Dispatcher struct {
	classifier *Classifier
	loop       pool.Pool
	retry      retry.Config
	logger     *slog.Logger
	metrics    observability.MetricsRecorder
	spans      observability.SpanManager
	journal    journal.Store
	writer     pool.Pool
	runs       *runTracker
}

func newDispatcher(cfg dispatcherConfig) *Dispatcher {
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.metrics == nil {
		cfg.metrics = observability.NoopMetrics{}
	}
	if cfg.spans == nil {
		cfg.spans = observability.NoopSpanManager{}
	}
	return &Dispatcher{
		classifier: cfg.classifier,
		loop:       cfg.classifier.EventLoop(),
		retry:      cfg.retry,
		logger:     cfg.logger,
		metrics:    cfg.metrics,
		spans:      cfg.spans,
		journal:    cfg.journal,
		writer:     cfg.writer,
		runs:       newRunTracker(),
	}
}

// Dispatch runs p against ev and hands the result to cont.
//
// An event-loop stage runs inline on the calling goroutine and cont is
// called before Dispatch returns. Any other stage is submitted to its pool
// and cont is called later on an event-loop worker. A cancelled event is
// not dispatched; cont receives a *CancellationError instead.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *event.Event, p Processor, cont Continuation) {
	r := &run{d: d, source: ev, traceCtx: ev.Context()}
	d.dispatch(ctx, r, ev, p, 0, cont)
}

// Run executes chain against ev starting on the calling goroutine, which
// must be an event-loop worker. The outcome is reported through ev's
// completion.
func (d *Dispatcher) Run(ctx context.Context, ev *event.Event, chain *Chain) {
	d.begin(ev, chain).start(ctx)
}

// InFlight returns the number of events that started a chain and have not
// reached a terminal state.
func (d *Dispatcher) InFlight() int {
	return d.runs.count()
}

// WaitIdle blocks until no event is in flight or ctx ends.
func (d *Dispatcher) WaitIdle(ctx context.Context) error {
	return d.runs.wait(ctx)
}

func (d *Dispatcher) dispatch(ctx context.Context, r *run, ev *event.Event, p Processor, idx int, cont Continuation) {
	if ev.Completion().IsCancelled() {
		cont(ctx, ev, &CancellationError{Stage: p.Name(), Cause: context.Cause(ev.Context())})
		return
	}

	target := d.classifier.Classify(p)
	if d.classifier.IsEventLoop(target) {
		out, err := d.execute(ctx, r, ev, p, idx)
		cont(ctx, out, err)
		return
	}

	failed := func(err error) { cont(ctx, nil, err) }
	d.submit(r.traceCtx, ev, r.pipeline, p.Name(), target, func(wctx context.Context) {
		out, err := d.execute(wctx, r, ev, p, idx)
		if err != nil {
			cont(wctx, nil, err)
			return
		}
		d.submit(r.traceCtx, ev, r.pipeline, p.Name(), d.loop, func(lctx context.Context) {
			cont(lctx, out, nil)
		}, func(err error) { cont(wctx, nil, err) })
	}, failed)
}

// submit hands task to target. A rejected submission is retried after the
// budget's backoff; the retry is requeued onto the event-loop pool so a
// busy blocking pool never ties up a timer goroutine. fail receives the
// final error when the budget runs out, the pool is not running or the
// event was cancelled meanwhile. Each retry is noted on the span in
// traceCtx.
func (d *Dispatcher) submit(traceCtx context.Context, ev *event.Event, pipeline, stage string, target pool.Pool, task pool.Task, fail func(error)) {
	budget := d.retry.NewBudget()

	var attempt func()
	attempt = func() {
		if ev.Completion().IsCancelled() {
			fail(&CancellationError{Stage: stage, Cause: context.Cause(ev.Context())})
			return
		}
		err := target.Submit(task)
		if err == nil {
			return
		}
		if !retry.IsRetryable(err) {
			fail(&StageError{Stage: stage, Pool: target.Name(), Err: err})
			return
		}
		delay, ok := budget.Next()
		if !ok {
			fail(&OverloadError{
				Pipeline: pipeline,
				Stage:    stage,
				Pool:     target.Name(),
				Attempts: budget.Retries() + 1,
				Last:     err,
			})
			return
		}
		d.metrics.RecordDispatchRetry(ev.Context(), stage, target.Name())
		d.spans.AddSpanEvent(traceCtx, "dispatch.retry",
			attribute.String("stage", stage),
			attribute.String("pool", target.Name()),
			attribute.Int("attempt", budget.Retries()),
			attribute.Int("remaining", budget.Remaining()),
			attribute.Int64("delay_us", delay.Microseconds()),
		)
		observability.LogDispatchRetry(d.logger, stage, target.Name(), budget.Retries(), delay)
		time.AfterFunc(delay, func() { d.requeue(target, attempt) })
	}
	attempt()
}

// requeue runs attempt on an event-loop worker. When target is the event
// loop itself, or the event loop refuses the hand-off, attempt runs on the
// timer goroutine.
func (d *Dispatcher) requeue(target pool.Pool, attempt func()) {
	if !d.classifier.IsEventLoop(target) {
		if d.loop.Submit(func(context.Context) { attempt() }) == nil {
			return
		}
	}
	attempt()
}

func (d *Dispatcher) execute(ctx context.Context, r *run, ev *event.Event, p Processor, idx int) (out *event.Event, err error) {
	w := workerOf(ctx)
	stage := p.Name()
	logger := observability.EnrichLogger(d.logger, ev.ID(), stage, w.String())

	spanCtx, span := d.spans.StartStageSpan(r.traceCtx, stage, w.String())
	sctx := &stageContext{
		Context:  spanCtx,
		logger:   logger,
		eventID:  ev.ID(),
		pipeline: r.pipeline,
		stage:    stage,
		index:    idx,
		worker:   w,
	}

	observability.LogStageStart(logger, stage)
	elapsed := observability.TimedOperation()
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, &PanicError{Stage: stage, Value: rec, Stack: string(debug.Stack())}
		}
		d.metrics.RecordStage(spanCtx, stage, w.Pool, time.Since(start), err)
		d.spans.EndSpanWithError(span, err)
		if err != nil {
			observability.LogStageError(logger, stage, err)
			return
		}
		observability.LogStageComplete(logger, stage, elapsed())
	}()

	r.note(stage)
	out, err = p.Process(sctx, ev)
	if err != nil {
		if ev.Completion().IsCancelled() {
			return nil, &CancellationError{Stage: stage, Cause: err}
		}
		return nil, &StageError{Stage: stage, Pool: w.Pool, Err: err}
	}
	if out == nil {
		out = ev
	}
	return out, nil
}

// run is one event travelling through one chain.
type run struct {
	d        *Dispatcher
	chain    *Chain
	pipeline string
	source   *event.Event
	traceCtx context.Context
	span     trace.Span
	started  time.Time

	mu     sync.Mutex
	stages []string
}

// begin registers ev as in flight and installs the terminal bookkeeping.
// It must be called before ev can reach a terminal state through the
// dispatcher.
func (d *Dispatcher) begin(ev *event.Event, chain *Chain) *run {
	r := &run{
		d:        d,
		chain:    chain,
		pipeline: chain.Name(),
		source:   ev,
		started:  time.Now(),
	}
	r.traceCtx, r.span = d.spans.StartEventSpan(ev.Context(), r.pipeline, ev.ID())

	d.runs.add()
	d.metrics.RecordInFlight(r.traceCtx, r.pipeline, 1)
	ev.Completion().OnTerminal(r.settle)
	return r
}

func (r *run) start(ctx context.Context) {
	r.runFrom(ctx, r.source, 0)
}

// runFrom executes stages from idx. Stages whose result arrives before
// dispatch returns continue in this loop; results arriving later resume
// through the continuation on an event-loop worker.
func (r *run) runFrom(ctx context.Context, ev *event.Event, idx int) {
	for idx < r.chain.Len() {
		if r.source.Completion().IsTerminal() {
			return
		}

		next := idx + 1
		st := &step{}
		r.d.dispatch(ctx, r, ev, r.chain.Stage(idx), idx, func(cctx context.Context, out *event.Event, err error) {
			if st.capture(out, err) {
				return
			}
			if err != nil {
				r.fail(err)
				return
			}
			r.runFrom(cctx, out, next)
		})

		ok, out, err := st.release()
		if !ok {
			return
		}
		if err != nil {
			r.fail(err)
			return
		}
		ev, idx = out, next
	}
	r.source.Completion().Complete(ev)
}

func (r *run) fail(err error) {
	var cancelled *CancellationError
	if errors.As(err, &cancelled) {
		r.source.Completion().Cancel()
		return
	}
	r.source.Completion().Fail(err)
}

func (r *run) note(stage string) {
	r.mu.Lock()
	r.stages = append(r.stages, stage)
	r.mu.Unlock()
}

func (r *run) executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stages...)
}

// settle runs once when the event reaches a terminal state.
func (r *run) settle(o event.Outcome) {
	d := r.d
	ctx := context.WithoutCancel(r.traceCtx)
	duration := time.Since(r.started)
	status := o.Status.String()

	d.metrics.RecordInFlight(ctx, r.pipeline, -1)
	d.metrics.RecordEvent(ctx, r.pipeline, status, duration)
	d.spans.EndSpanWithError(r.span, o.Err)
	observability.LogEventComplete(d.logger, r.pipeline, r.source.ID(), status,
		float64(duration)/float64(time.Millisecond))

	if d.journal != nil {
		rec := journal.Record{
			EventID:     r.source.ID(),
			Pipeline:    r.pipeline,
			Status:      status,
			Stages:      r.executed(),
			Duration:    duration,
			CompletedAt: o.CompletedAt,
		}
		if o.Err != nil {
			rec.Error = o.Err.Error()
		}
		d.record(rec)
	}
	d.runs.done()
}

// record saves rec on the writer pool, falling back to the current
// goroutine when the writer is absent or refuses the task.
func (d *Dispatcher) record(rec journal.Record) {
	save := func(context.Context) {
		if err := d.journal.Save(rec); err != nil {
			observability.LogJournalError(d.logger, rec.EventID, "save", err)
		}
	}
	if d.writer != nil && d.writer.Submit(save) == nil {
		return
	}
	save(context.Background())
}

// step hands one stage result back to the loop in runFrom when it arrives
// before dispatch returned.
type step struct {
	mu       sync.Mutex
	returned bool
	done     bool
	out      *event.Event
	err      error
}

// capture stores a result delivered before release. It returns false once
// release ran, in which case the caller owns the result.
func (s *step) capture(out *event.Event, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.returned {
		return false
	}
	s.done, s.out, s.err = true, out, err
	return true
}

// release marks dispatch as returned and reports any captured result.
func (s *step) release() (bool, *event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.returned = true
	return s.done, s.out, s.err
}

// runTracker counts in-flight runs and signals when the count drops to zero.
type runTracker struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func newRunTracker() *runTracker {
	idle := make(chan struct{})
	close(idle)
	return &runTracker{idle: idle}
}

func (t *runTracker) add() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 {
		t.idle = make(chan struct{})
	}
	t.n++
}

func (t *runTracker) done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.n--
	if t.n == 0 {
		close(t.idle)
	}
}

func (t *runTracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

func (t *runTracker) wait(ctx context.Context) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
