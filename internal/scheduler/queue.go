package scheduler

import (
	"context"
	"sync"
)

// fifoQueue is a counting semaphore with deterministic FIFO wakeup. A bare
// buffered-channel semaphore does not guarantee wait order, and admission
// order is part of the scheduler contract.
type fifoQueue struct {
	mu       sync.Mutex
	capacity int
	active   int
	waiters  []chan struct{}
}

func newFIFOQueue(capacity int) *fifoQueue {
	return &fifoQueue{
		mu:       sync.Mutex{},
		capacity: capacity,
		active:   0,
		waiters:  nil,
	}
}

// Acquire blocks until a slot is free or the context is done. Waiters are
// granted slots strictly in arrival order.
func (q *fifoQueue) Acquire(ctx context.Context) error {
	q.mu.Lock()

	if q.active < q.capacity && len(q.waiters) == 0 {
		q.active++
		q.mu.Unlock()

		return nil
	}

	grant := make(chan struct{})
	q.waiters = append(q.waiters, grant)
	q.mu.Unlock()

	select {
	case <-grant:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		for i, w := range q.waiters {
			if w == grant {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				q.mu.Unlock()

				return ctx.Err()
			}
		}
		q.mu.Unlock()

		// The grant raced the cancellation; the slot is ours to give back.
		q.Release()

		return ctx.Err()
	}
}

// Release frees a slot, handing it to the oldest waiter if one exists.
func (q *fifoQueue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.waiters) > 0 {
		grant := q.waiters[0]
		q.waiters = q.waiters[1:]
		close(grant)

		return
	}

	q.active--
}
