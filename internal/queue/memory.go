package queue

import (
	"context"
	"sync"

	"promobot/internal/task"
)

// memoryQueue is an unbounded FIFO guarded by a mutex. Enqueue appends
// the whole batch under one lock acquisition, which is what keeps the
// batch contiguous for the consumer.
type memoryQueue struct {
	mu     sync.Mutex
	items  []task.Task
	wake   chan struct{}
	closed bool
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{wake: make(chan struct{}, 1)}
}

func (q *memoryQueue) Enqueue(_ context.Context, b task.Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, b.Tasks...)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *memoryQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		if len(q.items) > 0 {
			t := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return &Delivery{Task: t, ack: func(error) {}}, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
		}
	}
}

func (q *memoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}
