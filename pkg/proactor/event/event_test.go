package event_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randalmurphal/proactor/pkg/proactor/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("generates an id", func(t *testing.T) {
		ev := event.New(context.Background(), "payload")
		assert.NotEmpty(t, ev.ID())
		assert.Equal(t, "payload", ev.Payload())
		assert.False(t, ev.CreatedAt().IsZero())
	})

	t.Run("explicit id and metadata", func(t *testing.T) {
		md := map[string]string{"tenant": "a"}
		ev := event.New(context.Background(), 1,
			event.WithID("evt-1"),
			event.WithMetadataMap(md))
		md["tenant"] = "mutated"

		assert.Equal(t, "evt-1", ev.ID())
		v, ok := ev.Metadata("tenant")
		require.True(t, ok)
		assert.Equal(t, "a", v)
	})

	t.Run("nil context is tolerated", func(t *testing.T) {
		ev := event.New(nil, nil)
		assert.NoError(t, ev.Context().Err())
	})
}

func TestDerive(t *testing.T) {
	src := event.New(context.Background(), "a", event.WithMetadataMap(map[string]string{"k": "v"}))

	derived := src.WithPayload("b").WithMetadata("k2", "v2")

	assert.Equal(t, "a", src.Payload(), "source must not change")
	_, ok := src.Metadata("k2")
	assert.False(t, ok, "source metadata must not change")

	assert.Equal(t, "b", derived.Payload())
	assert.Equal(t, src.ID(), derived.ID())
	assert.Same(t, src.Completion(), derived.Completion())
	assert.Equal(t, map[string]string{"k": "v", "k2": "v2"}, derived.MetadataMap())
}

func TestCompletion_ExactlyOnce(t *testing.T) {
	ev := event.New(context.Background(), nil)
	c := ev.Completion()

	var fired atomic.Int32
	c.OnTerminal(func(event.Outcome) { fired.Add(1) })

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := range 64 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var won bool
			switch i % 3 {
			case 0:
				won = c.Complete(ev.WithPayload(i))
			case 1:
				won = c.Fail(errors.New("boom"))
			default:
				won = c.Cancel()
			}
			if won {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(1), fired.Load())
	assert.True(t, c.IsTerminal())
	<-c.Done()
}

func TestCompletion_LateHookRunsImmediately(t *testing.T) {
	ev := event.New(context.Background(), nil)
	require.True(t, ev.Completion().Fail(errors.New("x")))

	var got event.Outcome
	ev.Completion().OnTerminal(func(o event.Outcome) { got = o })

	assert.Equal(t, event.StatusFailed, got.Status)
	assert.EqualError(t, got.Err, "x")
}

func TestCompletion_Cancel(t *testing.T) {
	ev := event.New(context.Background(), nil)

	assert.False(t, ev.Completion().IsCancelled())
	require.True(t, ev.Completion().Cancel())

	assert.True(t, ev.Completion().IsCancelled())
	assert.ErrorIs(t, ev.Context().Err(), context.Canceled)
	o := ev.Completion().Outcome()
	assert.Equal(t, event.StatusCancelled, o.Status)
	assert.ErrorIs(t, o.Err, context.Canceled)
}

func TestCompletion_ParentContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ev := event.New(ctx, nil)

	cancel()

	assert.True(t, ev.Completion().IsCancelled())
	assert.False(t, ev.Completion().IsTerminal())
}

func TestCompletion_Wait(t *testing.T) {
	t.Run("returns outcome", func(t *testing.T) {
		ev := event.New(context.Background(), "in")
		go func() {
			time.Sleep(5 * time.Millisecond)
			ev.Completion().Complete(ev.WithPayload("out"))
		}()

		o, err := ev.Completion().Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, event.StatusSucceeded, o.Status)
		assert.Equal(t, "out", o.Event.Payload())
		assert.False(t, o.CompletedAt.IsZero())
	})

	t.Run("times out while pending", func(t *testing.T) {
		ev := event.New(context.Background(), nil)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		defer cancel()

		o, err := ev.Completion().Wait(ctx)
		assert.ErrorIs(t, err, event.ErrPending)
		assert.Equal(t, event.StatusPending, o.Status)
	})
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status event.Status
		want   string
	}{
		{event.StatusPending, "pending"},
		{event.StatusSucceeded, "succeeded"},
		{event.StatusFailed, "failed"},
		{event.StatusCancelled, "cancelled"},
		{event.Status(42), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}
