package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	r := New[string, int]()
	assert.NotNil(t, r)
	assert.Equal(t, 0, r.Len())
}

// snapshot copies the registry contents through Range.
func snapshot[K comparable, V any](r *Registry[K, V]) map[K]V {
	out := map[K]V{}
	r.Range(func(k K, v V) bool {
		out[k] = v
		return true
	})
	return out
}

func TestRegister(t *testing.T) {
	r := New[string, int]()

	r.Register("one", 1)
	r.Register("two", 2)
	assert.Equal(t, map[string]int{"one": 1, "two": 2}, snapshot(r))

	r.Register("one", 10)
	assert.Equal(t, 10, snapshot(r)["one"], "Register overwrites")
	assert.Equal(t, 2, r.Len())
}

func TestAdd(t *testing.T) {
	r := New[string, int]()

	require.NoError(t, r.Add("stream", 1))
	err := r.Add("stream", 2)
	assert.ErrorIs(t, err, ErrExists)
	assert.Contains(t, err.Error(), "stream")

	assert.Equal(t, map[string]int{"stream": 1}, snapshot(r), "Add never overwrites")
}

func TestDelete(t *testing.T) {
	r := New[string, int]()
	r.Register("a", 1)

	assert.True(t, r.Delete("a"))
	assert.False(t, r.Delete("a"))
	assert.Equal(t, 0, r.Len())
}

func TestKeysAndRange(t *testing.T) {
	r := New[string, int]()
	r.Register("a", 1)
	r.Register("b", 2)
	r.Register("c", 3)

	assert.ElementsMatch(t, []string{"a", "b", "c"}, r.Keys())

	sum := 0
	r.Range(func(k string, v int) bool {
		sum += v
		r.Delete(k)
		return true
	})
	assert.Equal(t, 6, sum)
	assert.Equal(t, 0, r.Len())

	r.Register("x", 1)
	r.Register("y", 2)
	visited := 0
	r.Range(func(string, int) bool {
		visited++
		return false
	})
	assert.Equal(t, 1, visited)
}

func TestMutationsNotify(t *testing.T) {
	r := New[string, int]()
	ch := r.changed

	select {
	case <-ch:
		t.Fatal("closed before any mutation")
	default:
	}

	r.Register("a", 1)
	select {
	case <-ch:
	default:
		t.Fatal("not closed after mutation")
	}

	ch = r.changed
	r.Delete("missing")
	select {
	case <-ch:
		t.Fatal("no-op delete must not notify")
	default:
	}
}

func TestWaitEmpty(t *testing.T) {
	r := New[string, int]()
	require.NoError(t, r.WaitEmpty(context.Background()), "empty registry returns at once")

	r.Register("a", 1)
	r.Register("b", 2)

	done := make(chan error, 1)
	go func() { done <- r.WaitEmpty(context.Background()) }()

	r.Delete("a")
	select {
	case <-done:
		t.Fatal("returned with entries left")
	case <-time.After(10 * time.Millisecond):
	}

	r.Delete("b")
	require.NoError(t, <-done)
}

func TestWaitEmpty_ContextEnds(t *testing.T) {
	r := New[string, int]()
	r.Register("stuck", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.WaitEmpty(ctx), context.DeadlineExceeded)
}
