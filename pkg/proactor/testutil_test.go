package proactor_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/randalmurphal/proactor/pkg/proactor"
	"github.com/randalmurphal/proactor/pkg/proactor/event"
	"github.com/randalmurphal/proactor/pkg/proactor/pool"
)

var (
	spanExporter     *tracetest.InMemoryExporter
	spanExporterOnce sync.Once
)

// recordSpans installs one in-memory exporter as the global tracer provider
// and clears it. The engine's tracer binds to the first provider installed,
// so every test shares this one.
func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	spanExporterOnce.Do(func() {
		spanExporter = tracetest.NewInMemoryExporter()
		otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSyncer(spanExporter)))
	})
	spanExporter.Reset()
	return spanExporter
}

type constructor func(...proactor.Option) (*proactor.Strategy, error)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startStrategy builds and starts a strategy that is disposed on cleanup.
func startStrategy(t *testing.T, ctor constructor, opts ...proactor.Option) *proactor.Strategy {
	t.Helper()
	s, err := ctor(append([]proactor.Option{proactor.WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Dispose(ctx)
	})
	return s
}

func newSink(t *testing.T, s *proactor.Strategy, chain *proactor.Chain, opts ...proactor.SinkOption) *proactor.Sink {
	t.Helper()
	sink, err := s.CreateSink(chain, opts...)
	require.NoError(t, err)
	return sink
}

// await waits for ev to reach a terminal state.
func await(t *testing.T, ev *event.Event) event.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o, err := ev.Completion().Wait(ctx)
	require.NoError(t, err, "event %s never completed", ev.ID())
	return o
}

func pass(name string, typ proactor.ProcessingType) proactor.Processor {
	return proactor.NewProcessor(name, typ, func(_ proactor.Context, ev *event.Event) (*event.Event, error) {
		return ev, nil
	})
}

// appendStage appends the stage name to a []string payload.
func appendStage(name string, typ proactor.ProcessingType) proactor.Processor {
	return proactor.NewProcessor(name, typ, func(ctx proactor.Context, ev *event.Event) (*event.Event, error) {
		seen, _ := ev.Payload().([]string)
		return ev.WithPayload(append(append([]string(nil), seen...), ctx.Stage())), nil
	})
}

// gate holds stages until opened.
type gate struct {
	started chan string
	release chan struct{}
	once    sync.Once
}

func newGate(t *testing.T) *gate {
	g := &gate{started: make(chan string, 128), release: make(chan struct{})}
	t.Cleanup(g.open)
	return g
}

func (g *gate) open() {
	g.once.Do(func() { close(g.release) })
}

// processor blocks until the gate opens. It ignores cancellation.
func (g *gate) processor(name string, typ proactor.ProcessingType) proactor.Processor {
	return proactor.NewProcessor(name, typ, func(ctx proactor.Context, ev *event.Event) (*event.Event, error) {
		g.started <- ctx.EventID()
		<-g.release
		return ev, nil
	})
}

// cancellable blocks until the gate opens or the event is cancelled.
func (g *gate) cancellable(name string, typ proactor.ProcessingType) proactor.Processor {
	return proactor.NewProcessor(name, typ, func(ctx proactor.Context, ev *event.Event) (*event.Event, error) {
		g.started <- ctx.EventID()
		select {
		case <-g.release:
			return ev, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

// waitStarted waits until n stages blocked on the gate.
func (g *gate) waitStarted(t *testing.T, n int) {
	t.Helper()
	for range n {
		select {
		case <-g.started:
		case <-time.After(5 * time.Second):
			t.Fatal("stage never started")
		}
	}
}

// callLog records pool lifecycle calls across pools.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	l.calls = append(l.calls, call)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// testPool is a WorkerPool that counts submissions, can pretend to be
// saturated and records Start/Stop calls.
type testPool struct {
	*pool.WorkerPool
	busy    atomic.Bool
	submits atomic.Int64
	calls   *callLog
}

func newTestPool(name string, workers, queue int, calls *callLog) *testPool {
	return &testPool{
		WorkerPool: pool.New(pool.Config{Name: name, Workers: workers, QueueSize: queue, Logger: quietLogger()}),
		calls:      calls,
	}
}

func (p *testPool) Submit(task pool.Task) error {
	p.submits.Add(1)
	if p.busy.Load() {
		return &pool.RejectedError{Pool: p.Name(), Cause: pool.ErrRejected}
	}
	return p.WorkerPool.Submit(task)
}

func (p *testPool) Start() error {
	if p.calls != nil {
		p.calls.add("start:" + p.Name())
	}
	return p.WorkerPool.Start()
}

func (p *testPool) Stop(ctx context.Context) error {
	if p.calls != nil {
		p.calls.add("stop:" + p.Name())
	}
	return p.WorkerPool.Stop(ctx)
}

// goroutineID returns the id of the calling goroutine.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	id, _ := strconv.ParseUint(string(fields[1]), 10, 64)
	return id
}

// capture is a slog handler target for log assertions.
type capture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *capture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
