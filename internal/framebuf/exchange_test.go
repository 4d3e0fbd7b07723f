package framebuf

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const poll = time.Millisecond

func fill(t *testing.T, x *Exchange, b byte, n int) {
	t.Helper()
	slot := x.WriteSlot()
	free := slot.Free()
	require.True(t, len(free) >= n)
	for i := 0; i < n; i++ {
		free[i] = b
	}
	slot.Advance(n)
}

func TestSlot(t *testing.T) {
	s := newSlot(8)
	assert.Equal(t, 8, s.Cap())
	assert.Equal(t, 0, s.Len())

	copy(s.Free(), "abc")
	s.Advance(3)
	assert.Equal(t, []byte("abc"), s.Bytes())
	assert.Len(t, s.Free(), 5)

	assert.Panics(t, func() { s.Advance(6) })

	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 8, s.Cap())
}

func TestPublishSwapsWithoutCopy(t *testing.T) {
	x := NewExchange(16, Options{})
	first := x.WriteSlot()
	fill(t, x, 'a', 10)

	require.NoError(t, x.Publish(context.Background(), poll))
	assert.True(t, x.Ready())
	assert.NotSame(t, first, x.WriteSlot())
	assert.Equal(t, 0, x.WriteSlot().Len())

	f, ok := x.Acquire()
	require.True(t, ok)
	assert.True(t, x.Busy())
	assert.EqualValues(t, 1, f.Seq)
	assert.Equal(t, bytes.Repeat([]byte{'a'}, 10), f.Data)
	// The consumer sees the very array the producer wrote into.
	assert.Same(t, &first.data[0], &f.Data[0])

	x.Release()
	assert.False(t, x.Busy())
	assert.False(t, x.Ready())

	_, ok = x.Acquire()
	assert.False(t, ok, "no new frame")
	assert.False(t, x.Busy())
}

func TestPublishWaitsWhileConsumerBusy(t *testing.T) {
	x := NewExchange(4, Options{DropUnconsumed: true})
	fill(t, x, 1, 4)
	require.NoError(t, x.Publish(context.Background(), poll))

	f, ok := x.Acquire()
	require.True(t, ok)

	fill(t, x, 2, 4)
	done := make(chan error, 1)
	go func() { done <- x.Publish(context.Background(), poll) }()

	select {
	case <-done:
		t.Fatal("publish swapped while the consumer was reading")
	case <-time.After(20 * time.Millisecond):
	}
	// The frame being read is untouched and the next one is held, not lost.
	assert.Equal(t, []byte{1, 1, 1, 1}, f.Data)

	x.Release()
	require.NoError(t, <-done)

	f, ok = x.Acquire()
	require.True(t, ok)
	assert.Equal(t, []byte{2, 2, 2, 2}, f.Data)
	x.Release()
	assert.EqualValues(t, 1, x.Stats().Stalls)
}

func TestPublishWaitsForConsumption(t *testing.T) {
	x := NewExchange(4, Options{})
	fill(t, x, 1, 4)
	require.NoError(t, x.Publish(context.Background(), poll))

	fill(t, x, 2, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, context.DeadlineExceeded, x.Publish(ctx, poll))
	assert.Equal(t, 4, x.WriteSlot().Len(), "write slot keeps the completed frame")

	f, ok := x.Acquire()
	require.True(t, ok)
	assert.EqualValues(t, 1, f.Seq)
	x.Release()

	require.NoError(t, x.Publish(context.Background(), poll))
	f, ok = x.Acquire()
	require.True(t, ok)
	assert.Equal(t, []byte{2, 2, 2, 2}, f.Data)
	x.Release()
	assert.Zero(t, x.Stats().Dropped)
}

func TestDropUnconsumed(t *testing.T) {
	x := NewExchange(2, Options{DropUnconsumed: true})
	for i := byte(1); i <= 3; i++ {
		fill(t, x, i, 2)
		require.NoError(t, x.Publish(context.Background(), poll))
	}

	f, ok := x.Acquire()
	require.True(t, ok)
	assert.EqualValues(t, 3, f.Seq)
	assert.Equal(t, []byte{3, 3}, f.Data)
	x.Release()

	stats := x.Stats()
	assert.EqualValues(t, 3, stats.Published)
	assert.EqualValues(t, 2, stats.Dropped)
}

func TestClose(t *testing.T) {
	x := NewExchange(2, Options{})
	fill(t, x, 1, 2)
	require.NoError(t, x.Publish(context.Background(), poll))
	f, ok := x.Acquire()
	require.True(t, ok)

	x.Close()
	x.Close()
	assert.True(t, x.Closed())
	assert.Equal(t, []byte{1, 1}, f.Data, "held frame stays valid")
	x.Release()

	fill(t, x, 2, 2)
	assert.Equal(t, ErrClosed, x.Publish(context.Background(), poll))
	_, ok = x.Acquire()
	assert.False(t, ok)
}

func TestReleaseWithoutAcquire(t *testing.T) {
	x := NewExchange(2, Options{})
	x.Release()
	assert.False(t, x.Busy())
	assert.Zero(t, x.Stats().Consumed)
}

// A producer and a consumer hammer the exchange concurrently. Every frame is
// filled with its own sequence number, so a torn or reordered frame shows up
// as mixed bytes or a skipped value.
func TestConcurrentHandoff(t *testing.T) {
	const frames = 200
	const size = 512
	x := NewExchange(size, Options{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= frames; i++ {
			slot := x.WriteSlot()
			free := slot.Free()
			for j := 0; j < size; j++ {
				free[j] = byte(i)
			}
			slot.Advance(size)
			if err := x.Publish(context.Background(), 50*time.Microsecond); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	deadline := time.After(10 * time.Second)
	for next := 1; next <= frames; {
		f, ok := x.Acquire()
		if !ok {
			select {
			case <-deadline:
				t.Fatalf("stuck waiting for frame %d", next)
			default:
			}
			time.Sleep(10 * time.Microsecond)
			continue
		}
		require.EqualValues(t, next, f.Seq)
		require.Equal(t, bytes.Repeat([]byte{byte(next)}, size), f.Data)
		x.Release()
		next++
	}
	wg.Wait()
	assert.Zero(t, x.Stats().Dropped)
}
