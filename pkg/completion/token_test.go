package completion

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualScheduler queues callbacks until run is called.
type manualScheduler struct {
	mu    sync.Mutex
	queue []func()
}

func (s *manualScheduler) schedule(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, fn)
}

func (s *manualScheduler) run() int {
	s.mu.Lock()
	queue := s.queue
	s.queue = nil
	s.mu.Unlock()
	for _, fn := range queue {
		fn()
	}
	return len(queue)
}

// ============================================================================
// Resolution
// ============================================================================

func TestResolve(t *testing.T) {
	t.Run("CallbackIsDeferred", func(t *testing.T) {
		sched := &manualScheduler{}
		var called atomic.Int32
		tok := New(func(*Token[int]) { called.Add(1) }, sched.schedule)

		require.True(t, tok.Resolve(42))
		assert.True(t, tok.Done())
		assert.Zero(t, called.Load(), "callback must not run on the resolving goroutine")

		assert.Equal(t, 1, sched.run())
		assert.Equal(t, int32(1), called.Load())
	})

	t.Run("FirstCompletionWins", func(t *testing.T) {
		sched := &manualScheduler{}
		tok := New[int](nil, sched.schedule)

		require.True(t, tok.Fail(errors.New("first")))
		assert.False(t, tok.Resolve(1))
		assert.False(t, tok.Fail(errors.New("second")))

		_, err := tok.Result()
		assert.EqualError(t, err, "first")
	})

	t.Run("NilCallback", func(t *testing.T) {
		sched := &manualScheduler{}
		tok := New[string](nil, sched.schedule)
		tok.Resolve("x")
		assert.Zero(t, sched.run())
	})
}

func TestResult(t *testing.T) {
	t.Run("NotDone", func(t *testing.T) {
		tok := New[int](nil, nil)
		_, err := tok.Result()
		assert.ErrorIs(t, err, ErrNotDone)
	})

	t.Run("TakenOnce", func(t *testing.T) {
		tok := New[[]string](nil, func(func()) {})
		tok.Resolve([]string{"a", "b"})

		v, err := tok.Result()
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, v)

		v, err = tok.Result()
		assert.ErrorIs(t, err, ErrTaken)
		assert.Nil(t, v)
	})
}

// ============================================================================
// Triggers
// ============================================================================

func TestOnDeadline(t *testing.T) {
	t.Run("Fires", func(t *testing.T) {
		tok := New[int](nil, func(func()) {})
		tok.OnDeadline(10*time.Millisecond, func() { tok.Fail(context.DeadlineExceeded) })

		require.Eventually(t, tok.Done, time.Second, 5*time.Millisecond)
		_, err := tok.Result()
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("DisarmedByResolve", func(t *testing.T) {
		var fired atomic.Bool
		tok := New[int](nil, func(func()) {})
		tok.OnDeadline(20*time.Millisecond, func() { fired.Store(true) })
		tok.Resolve(1)

		time.Sleep(60 * time.Millisecond)
		assert.False(t, fired.Load())
	})

	t.Run("AfterResolveIsIgnored", func(t *testing.T) {
		var fired atomic.Bool
		tok := New[int](nil, func(func()) {})
		tok.Resolve(1)
		tok.OnDeadline(5*time.Millisecond, func() { fired.Store(true) })

		time.Sleep(30 * time.Millisecond)
		assert.False(t, fired.Load())
	})
}

func TestOnCancel(t *testing.T) {
	t.Run("Fires", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		tok := New[int](nil, func(func()) {})
		tok.OnCancel(ctx, func() { tok.Fail(ctx.Err()) })

		cancel()
		require.Eventually(t, tok.Done, time.Second, 5*time.Millisecond)
		_, err := tok.Result()
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("DisarmedByResolve", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var fired atomic.Bool
		tok := New[int](nil, func(func()) {})
		tok.OnCancel(ctx, func() { fired.Store(true) })
		tok.Resolve(1)
		cancel()

		time.Sleep(30 * time.Millisecond)
		assert.False(t, fired.Load())
	})

	t.Run("UncancellableContext", func(t *testing.T) {
		tok := New[int](nil, nil)
		tok.OnCancel(context.Background(), func() { t.Error("must not fire") })
		assert.False(t, tok.Done())
	})
}

// ============================================================================
// Await
// ============================================================================

func TestAwait(t *testing.T) {
	t.Run("ReturnsToken", func(t *testing.T) {
		tok, err := Await(context.Background(), func(cb Callback[int]) {
			New(cb, nil).Resolve(7)
		})
		require.NoError(t, err)

		v, err := tok.Result()
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	})

	t.Run("ContextEnds", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		tok, err := Await(ctx, func(Callback[int]) {})
		assert.Nil(t, tok)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
