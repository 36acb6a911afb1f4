// Package memory provides the bounded in-memory work queue between the
// channel listener and the worker pool.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/whale-sentinel/internal/whale"
)

// Queue is a bounded FIFO queue with non-blocking producer submission and
// completion accounting. Each item admitted by TryEnqueue must eventually be
// balanced by exactly one Done call so WaitIdle observes true completion,
// not just an empty channel.
type Queue struct {
	ch chan whale.QueueItem

	mu       sync.Mutex
	pending  int
	idleWake chan struct{}
	closed   bool
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:       make(chan whale.QueueItem, capacity),
		idleWake: make(chan struct{}),
	}
}

// TryEnqueue submits an item without blocking. When the queue is at
// capacity it returns whale.ErrQueueFull immediately; the producer must
// never stall the upstream delivery loop waiting for space.
func (q *Queue) TryEnqueue(item whale.QueueItem) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return whale.ErrQueueClosed
	}
	select {
	case q.ch <- item:
		q.pending++
		q.mu.Unlock()
		return nil
	default:
		q.mu.Unlock()
		return whale.ErrQueueFull
	}
}

// Dequeue pops the next item, blocking until one is available or the
// context ends.
func (q *Queue) Dequeue(ctx context.Context) (whale.QueueItem, error) {
	select {
	case <-ctx.Done():
		return whale.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return whale.QueueItem{}, whale.ErrQueueClosed
		}
		return item, nil
	}
}

// Done marks one previously dequeued item as fully processed. Calling Done
// more times than items were admitted panics, mirroring a double-free.
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending <= 0 {
		panic("queue: Done called with no pending items")
	}
	q.pending--
	if q.pending == 0 {
		close(q.idleWake)
		q.idleWake = make(chan struct{})
	}
}

// WaitIdle blocks until every admitted item has been marked Done, or the
// context ends. Used by the shutdown orchestrator's drain phase.
func (q *Queue) WaitIdle(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.pending == 0 {
			q.mu.Unlock()
			return nil
		}
		wake := q.idleWake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait idle: %w", ctx.Err())
		case <-wake:
		}
	}
}

// Len reports the number of items buffered and not yet dequeued.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap reports the configured capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Close rejects further submissions and releases blocked consumers.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
