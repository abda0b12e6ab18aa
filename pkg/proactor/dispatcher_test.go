package proactor_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/proactor/pkg/proactor"
	"github.com/randalmurphal/proactor/pkg/proactor/event"
	"github.com/randalmurphal/proactor/pkg/proactor/journal"
	"github.com/randalmurphal/proactor/pkg/proactor/lifecycle"
	"github.com/randalmurphal/proactor/pkg/proactor/pool"
	"github.com/randalmurphal/proactor/pkg/proactor/retry"
)

func fastRetry(maxRetries int) proactor.Option {
	return proactor.WithRetry(retry.NewConfig(
		retry.WithMaxRetries(maxRetries),
		retry.WithInitialBackoff(time.Millisecond),
		retry.WithMaxBackoff(5*time.Millisecond),
		retry.WithJitter(0),
	))
}

func TestDispatch_EventLoopStageRunsInline(t *testing.T) {
	s := startStrategy(t, proactor.NewProactor)
	ev := event.New(context.Background(), 1)

	caller := goroutineID()
	var stageGoroutine uint64
	called := false
	p := proactor.NewProcessor("inc", proactor.EventLoop, func(_ proactor.Context, ev *event.Event) (*event.Event, error) {
		stageGoroutine = goroutineID()
		return ev.WithPayload(ev.Payload().(int) + 1), nil
	})

	s.Dispatcher().Dispatch(context.Background(), ev, p, func(_ context.Context, out *event.Event, err error) {
		called = true
		require.NoError(t, err)
		assert.Equal(t, 2, out.Payload())
	})

	assert.True(t, called, "continuation runs before Dispatch returns")
	assert.Equal(t, caller, stageGoroutine)
}

func TestDispatch_HopResumesOnEventLoop(t *testing.T) {
	s := startStrategy(t, proactor.NewProactor)
	ev := event.New(context.Background(), nil)

	var stageWorker pool.Worker
	p := proactor.NewProcessor("io", proactor.Blocking, func(ctx proactor.Context, ev *event.Event) (*event.Event, error) {
		stageWorker = ctx.Worker()
		return ev, nil
	})

	resumed := make(chan pool.Worker, 1)
	s.Dispatcher().Dispatch(context.Background(), ev, p, func(ctx context.Context, _ *event.Event, err error) {
		assert.NoError(t, err)
		w, _ := pool.CurrentWorker(ctx)
		resumed <- w
	})

	select {
	case w := <-resumed:
		assert.Equal(t, "blocking", stageWorker.Pool)
		assert.Equal(t, "event_loop", w.Pool)
	case <-time.After(5 * time.Second):
		t.Fatal("continuation never ran")
	}
}

func TestDispatch_CancelledEventIsNotDispatched(t *testing.T) {
	s := startStrategy(t, proactor.NewProactor)
	ev := event.New(context.Background(), nil)
	ev.Completion().Cancel()

	ran := false
	var got error
	s.Dispatcher().Dispatch(context.Background(), ev, proactor.NewProcessor("x", proactor.Blocking,
		func(_ proactor.Context, ev *event.Event) (*event.Event, error) {
			ran = true
			return ev, nil
		}), func(_ context.Context, _ *event.Event, err error) { got = err })

	assert.False(t, ran)
	var cancelled *proactor.CancellationError
	require.ErrorAs(t, got, &cancelled)
	assert.Equal(t, "x", cancelled.Stage)
}

func TestRun_ThreePoolChain(t *testing.T) {
	s := startStrategy(t, proactor.NewProactor)

	var mu sync.Mutex
	var workers []pool.Worker
	record := func(name string, typ proactor.ProcessingType) proactor.Processor {
		return proactor.NewProcessor(name, typ, func(ctx proactor.Context, ev *event.Event) (*event.Event, error) {
			mu.Lock()
			workers = append(workers, ctx.Worker())
			mu.Unlock()
			assert.Equal(t, name, ctx.Stage())
			assert.Equal(t, "orders", ctx.Pipeline())
			assert.NotNil(t, ctx.Logger())
			return ev, nil
		})
	}
	chain := proactor.MustChain("orders",
		record("parse", proactor.EventLoop),
		record("store", proactor.Blocking),
		record("score", proactor.CPUIntensive),
		record("emit", proactor.EventLoop),
	)

	ev := event.New(context.Background(), nil)
	require.NoError(t, newSink(t, s, chain).Accept(ev))
	o := await(t, ev)
	require.Equal(t, event.StatusSucceeded, o.Status, "err: %v", o.Err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, workers, 4)
	assert.Equal(t, "event_loop", workers[0].Pool)
	assert.Equal(t, "blocking", workers[1].Pool)
	assert.Equal(t, "cpu_intensive", workers[2].Pool)
	assert.Equal(t, "event_loop", workers[3].Pool)
}

func TestRun_StagesRunInOrder(t *testing.T) {
	s := startStrategy(t, proactor.NewProactor)
	chain := proactor.MustChain("order",
		appendStage("a", proactor.EventLoop),
		appendStage("b", proactor.Blocking),
		appendStage("c", proactor.EventLoop),
		appendStage("d", proactor.EventLoop),
		appendStage("e", proactor.CPUIntensive),
		appendStage("f", proactor.BlockingAndEventLoop),
	)
	sink := newSink(t, s, chain)

	events := make([]*event.Event, 50)
	for i := range events {
		events[i] = event.New(context.Background(), []string(nil))
		require.NoError(t, sink.Accept(events[i]))
	}
	for _, ev := range events {
		o := await(t, ev)
		require.Equal(t, event.StatusSucceeded, o.Status)
		assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, o.Event.Payload())
	}
}

func TestRun_StageFailure(t *testing.T) {
	s := startStrategy(t, proactor.NewProactor)
	boom := errors.New("boom")

	t.Run("error", func(t *testing.T) {
		var after atomic.Bool
		chain := proactor.MustChain("fail",
			proactor.NewProcessor("bad", proactor.Blocking, func(proactor.Context, *event.Event) (*event.Event, error) {
				return nil, boom
			}),
			proactor.NewProcessor("after", proactor.EventLoop, func(_ proactor.Context, ev *event.Event) (*event.Event, error) {
				after.Store(true)
				return ev, nil
			}),
		)
		ev := event.New(context.Background(), nil)
		require.NoError(t, newSink(t, s, chain).Accept(ev))

		o := await(t, ev)
		assert.Equal(t, event.StatusFailed, o.Status)
		assert.ErrorIs(t, o.Err, boom)
		var stageErr *proactor.StageError
		require.ErrorAs(t, o.Err, &stageErr)
		assert.Equal(t, "bad", stageErr.Stage)
		assert.Equal(t, "blocking", stageErr.Pool)
		assert.False(t, after.Load())
	})

	t.Run("panic", func(t *testing.T) {
		chain := proactor.MustChain("panic",
			proactor.NewProcessor("explode", proactor.CPUIntensive, func(proactor.Context, *event.Event) (*event.Event, error) {
				panic("kaboom")
			}),
		)
		ev := event.New(context.Background(), nil)
		require.NoError(t, newSink(t, s, chain).Accept(ev))

		o := await(t, ev)
		var panicErr *proactor.PanicError
		require.ErrorAs(t, o.Err, &panicErr)
		assert.Equal(t, "explode", panicErr.Stage)
		assert.Equal(t, "kaboom", panicErr.Value)
		assert.NotEmpty(t, panicErr.Stack)
	})
}

func TestRun_BusyPoolRecovers(t *testing.T) {
	busy := newTestPool("blocking", 2, 8, nil)
	busy.busy.Store(true)
	s := startStrategy(t, proactor.NewProactor,
		proactor.WithPool(lifecycle.RoleBlocking, busy),
		fastRetry(100))

	chain := proactor.MustChain("recover", pass("io", proactor.Blocking))
	ev := event.New(context.Background(), nil)
	require.NoError(t, newSink(t, s, chain).Accept(ev))

	require.Eventually(t, func() bool { return busy.submits.Load() >= 3 }, 5*time.Second, time.Millisecond)
	busy.busy.Store(false)

	o := await(t, ev)
	assert.Equal(t, event.StatusSucceeded, o.Status, "err: %v", o.Err)
}

func TestRun_BusyPoolExhaustsBudget(t *testing.T) {
	busy := newTestPool("blocking", 2, 8, nil)
	busy.busy.Store(true)
	s := startStrategy(t, proactor.NewProactor,
		proactor.WithPool(lifecycle.RoleBlocking, busy),
		fastRetry(3))

	chain := proactor.MustChain("overload", pass("io", proactor.Blocking))
	ev := event.New(context.Background(), nil)
	require.NoError(t, newSink(t, s, chain).Accept(ev))

	o := await(t, ev)
	assert.Equal(t, event.StatusFailed, o.Status)
	assert.ErrorIs(t, o.Err, proactor.ErrOverload)
	assert.ErrorIs(t, o.Err, pool.ErrRejected)

	var overload *proactor.OverloadError
	require.ErrorAs(t, o.Err, &overload)
	assert.Equal(t, "overload", overload.Pipeline)
	assert.Equal(t, "io", overload.Stage)
	assert.Equal(t, "blocking", overload.Pool)
	assert.Equal(t, 4, overload.Attempts)
	assert.True(t, retry.IsRetryable(o.Err))
	assert.Equal(t, int64(4), busy.submits.Load())
}

func TestRun_PoolNotRunningIsNotRetried(t *testing.T) {
	s := startStrategy(t, proactor.NewProactor, fastRetry(100))

	stopped := pool.New(pool.Config{Name: "custom"})
	chain := proactor.MustChain("custom", proactor.NewCustomProcessor("x", stopped,
		func(_ proactor.Context, ev *event.Event) (*event.Event, error) { return ev, nil }))

	ev := event.New(context.Background(), nil)
	require.NoError(t, newSink(t, s, chain).Accept(ev))

	o := await(t, ev)
	assert.ErrorIs(t, o.Err, pool.ErrNotRunning)
	assert.NotErrorIs(t, o.Err, proactor.ErrOverload)
}

func TestRun_CustomPool(t *testing.T) {
	s := startStrategy(t, proactor.NewProactor)

	custom := pool.New(pool.Config{Name: "gpu", Workers: 1, QueueSize: 4})
	require.NoError(t, custom.Start())
	t.Cleanup(func() { _ = custom.Stop(context.Background()) })

	var worker pool.Worker
	chain := proactor.MustChain("custom", proactor.NewCustomProcessor("render", custom,
		func(ctx proactor.Context, ev *event.Event) (*event.Event, error) {
			worker = ctx.Worker()
			return ev, nil
		}))

	ev := event.New(context.Background(), nil)
	require.NoError(t, newSink(t, s, chain).Accept(ev))
	require.Equal(t, event.StatusSucceeded, await(t, ev).Status)
	assert.Equal(t, "gpu", worker.Pool)

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, pool.StateStarted, custom.State(), "custom pools belong to their owner")
}

func TestRun_CancelledBetweenStages(t *testing.T) {
	s := startStrategy(t, proactor.NewProactor)
	g := newGate(t)

	var second atomic.Bool
	chain := proactor.MustChain("cancel",
		g.processor("wait", proactor.Blocking),
		proactor.NewProcessor("second", proactor.EventLoop, func(_ proactor.Context, ev *event.Event) (*event.Event, error) {
			second.Store(true)
			return ev, nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	ev := event.New(ctx, nil)
	require.NoError(t, newSink(t, s, chain).Accept(ev))
	g.waitStarted(t, 1)

	cancel()
	g.open()

	o := await(t, ev)
	assert.Equal(t, event.StatusCancelled, o.Status)
	assert.ErrorIs(t, o.Err, context.Canceled)
	assert.False(t, second.Load())
}

func TestRun_CancelWhileStageRuns(t *testing.T) {
	s := startStrategy(t, proactor.NewProactor, proactor.WithMaxConcurrency(4))
	g := newGate(t)

	chain := proactor.MustChain("cancel", g.cancellable("wait", proactor.Blocking))
	ev := event.New(context.Background(), nil)
	require.NoError(t, newSink(t, s, chain, proactor.WithBackpressure(proactor.BackpressureFail)).Accept(ev))
	g.waitStarted(t, 1)

	require.True(t, ev.Completion().Cancel())
	assert.Equal(t, event.StatusCancelled, await(t, ev).Status)
	require.Eventually(t, func() bool { return s.Stats().Admission.InFlight == 0 }, time.Second, time.Millisecond)
}

func TestRun_JournalRecordsOutcomes(t *testing.T) {
	store := journal.NewMemoryStore()
	s := startStrategy(t, proactor.NewProactor, proactor.WithJournal(store))

	boom := errors.New("boom")
	ok := proactor.MustChain("journal", pass("a", proactor.EventLoop), pass("b", proactor.Blocking))
	bad := proactor.MustChain("journal", pass("a", proactor.EventLoop),
		proactor.NewProcessor("b", proactor.CPUIntensive, func(proactor.Context, *event.Event) (*event.Event, error) {
			return nil, boom
		}))

	good := event.New(context.Background(), nil)
	failed := event.New(context.Background(), nil)
	require.NoError(t, newSink(t, s, ok).Accept(good))
	require.NoError(t, newSink(t, s, bad).Accept(failed))
	await(t, good)
	await(t, failed)

	require.Eventually(t, func() bool {
		counts, err := store.Counts("journal")
		return err == nil && counts["succeeded"] == 1 && counts["failed"] == 1
	}, 5*time.Second, time.Millisecond)

	rec, err := store.Load(good.ID())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, rec.Stages)
	assert.Empty(t, rec.Error)

	rec, err = store.Load(failed.ID())
	require.NoError(t, err)
	assert.Equal(t, "failed", rec.Status)
	assert.Contains(t, rec.Error, "boom")
}

func TestDispatcher_WaitIdle(t *testing.T) {
	s := startStrategy(t, proactor.NewProactor)
	g := newGate(t)
	d := s.Dispatcher()

	ev := event.New(context.Background(), nil)
	require.NoError(t, newSink(t, s, proactor.MustChain("idle", g.processor("wait", proactor.Blocking))).Accept(ev))
	g.waitStarted(t, 1)
	assert.Equal(t, 1, d.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.WaitIdle(ctx), context.DeadlineExceeded)

	g.open()
	require.NoError(t, d.WaitIdle(context.Background()))
	assert.Equal(t, 0, d.InFlight())
}
