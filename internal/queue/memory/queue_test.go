package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/whale-sentinel/internal/whale"
)

func item(id string) whale.QueueItem {
	return whale.QueueItem{Event: whale.RawEvent{EventID: id, Text: "x", Timestamp: time.Now()}}
}

func TestQueueFIFOOrder(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	for i := 0; i < 4; i++ {
		require.NoError(t, q.TryEnqueue(item(fmt.Sprintf("e%d", i))))
	}
	for i := 0; i < 4; i++ {
		got, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("e%d", i), got.Event.EventID)
		q.Done()
	}
}

func TestQueueTryEnqueueFailsFastWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.TryEnqueue(item("a")))
	require.NoError(t, q.TryEnqueue(item("b")))

	// The producer must get an immediate rejection, never a block.
	start := time.Now()
	err := q.TryEnqueue(item("c"))
	require.ErrorIs(t, err, whale.ErrQueueFull)
	require.Less(t, time.Since(start), 100*time.Millisecond)
	require.Equal(t, 2, q.Len())
}

func TestQueueDequeueBlocksUntilItem(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	got := make(chan whale.QueueItem, 1)
	errCh := make(chan error, 1)
	go func() {
		it, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		got <- it
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to park
	require.NoError(t, q.TryEnqueue(item("late")))

	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case it := <-got:
		require.Equal(t, "late", it.Event.EventID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueDequeueCancellation(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueueWaitIdleObservesDone(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.TryEnqueue(item("a")))
	require.NoError(t, q.TryEnqueue(item("b")))

	// Both items outstanding: WaitIdle must time out.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, q.WaitIdle(ctx))

	_, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	q.Done()
	_, err = q.Dequeue(context.Background())
	require.NoError(t, err)

	// Second item dequeued but not Done: still not idle.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	require.Error(t, q.WaitIdle(ctx2))

	q.Done()
	require.NoError(t, q.WaitIdle(context.Background()))
}

func TestQueueWaitIdleWakesBlockedWaiter(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.TryEnqueue(item("a")))
	_, err := q.Dequeue(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- q.WaitIdle(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	q.Done()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitIdle did not wake after Done")
	}
}

func TestQueueCloseRejectsProducersAndReleasesConsumers(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	q.Close() // idempotent

	require.ErrorIs(t, q.TryEnqueue(item("x")), whale.ErrQueueClosed)
	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, whale.ErrQueueClosed)
}

func TestQueueDonePanicsWithoutPending(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.Panics(t, func() { q.Done() })
}
