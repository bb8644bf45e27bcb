package queue

import (
	"context"
	"sync"

	"github.com/CodeByJF/mqbridge/errors"
)

// Queue is a bounded FIFO queue backed by a ring buffer. Enqueue is the only
// producer path; no item is ever duplicated within the queue.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	closed   bool

	stats   *Statistics
	metrics *queueMetrics
	opts    *options[T]

	notEmpty *sync.Cond
	notFull  *sync.Cond
}

// New creates a bounded queue with the given capacity.
// Statistics are always collected; metrics are optional via WithMetrics.
func New[T any](capacity int, opts ...Option[T]) (*Queue[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	o := applyOptions(opts...)

	var qm *queueMetrics
	if o.metricsReg != nil {
		var err error
		qm, err = newQueueMetrics(o.metricsReg, o.metricsPrefix)
		if err != nil {
			return nil, errors.Wrap(err, "Queue", "New", "metrics registration")
		}
	}

	q := &Queue[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  qm,
		opts:     o,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)

	return q, nil
}

// Enqueue adds an item according to the overflow policy. Under the Block
// policy a full queue blocks the caller until space frees up, the queue is
// closed, or ctx is cancelled.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	// Wake blocked waiters if the context is cancelled mid-wait.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notFull.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	// Registered before the lock so it runs after Unlock; drop callbacks
	// may touch the queue without deadlocking.
	var droppedItem *T
	defer func() {
		if droppedItem != nil && q.opts.dropCallback != nil {
			q.opts.dropCallback(*droppedItem)
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errors.WrapInvalid(errors.ErrQueueClosed, "Queue", "Enqueue", "check state")
	}

	if q.size == q.capacity {
		switch q.opts.policy {
		case DropOldest:
			dropped := q.items[q.tail]
			var zero T
			q.items[q.tail] = zero
			q.tail = (q.tail + 1) % q.capacity
			q.size--
			q.recordDrop()
			droppedItem = &dropped

		case DropNewest:
			q.recordDrop()
			droppedItem = &item
			return nil

		case Block:
			for q.size == q.capacity && !q.closed && ctx.Err() == nil {
				q.notFull.Wait()
			}
			if q.closed {
				return errors.WrapInvalid(errors.ErrQueueClosed, "Queue", "Enqueue", "closed during wait")
			}
			if err := ctx.Err(); err != nil {
				return errors.WrapTransient(err, "Queue", "Enqueue", "cancelled during wait")
			}
		}
	}

	q.items[q.head] = item
	q.head = (q.head + 1) % q.capacity
	q.size++

	q.stats.Enqueue()
	q.stats.UpdateSize(int64(q.size))
	if q.metrics != nil {
		q.metrics.recordEnqueue(q.size, q.capacity)
	}

	q.notEmpty.Signal()
	return nil
}

// Dequeue removes and returns the oldest item. It blocks until an item is
// available, the queue is closed and drained, or ctx is cancelled. The
// second return value is false only when no item was returned.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, bool) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == 0 && !q.closed && ctx.Err() == nil {
		q.notEmpty.Wait()
	}

	var zero T
	if q.size == 0 {
		// Closed and drained, or cancelled.
		return zero, false
	}

	item := q.items[q.tail]
	q.items[q.tail] = zero // release for GC
	q.tail = (q.tail + 1) % q.capacity
	q.size--

	q.stats.Dequeue()
	q.stats.UpdateSize(int64(q.size))
	if q.metrics != nil {
		q.metrics.recordDequeue(q.size, q.capacity)
	}

	q.notFull.Signal()
	return item, true
}

// TryDequeue removes and returns the oldest item without blocking.
func (q *Queue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.size == 0 {
		return zero, false
	}

	item := q.items[q.tail]
	q.items[q.tail] = zero
	q.tail = (q.tail + 1) % q.capacity
	q.size--

	q.stats.Dequeue()
	q.stats.UpdateSize(int64(q.size))
	if q.metrics != nil {
		q.metrics.recordDequeue(q.size, q.capacity)
	}

	q.notFull.Signal()
	return item, true
}

// Size returns the current number of queued items.
func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Capacity returns the configured upper bound.
func (q *Queue[T]) Capacity() int {
	return q.capacity
}

// IsFull reports whether the queue is at capacity.
func (q *Queue[T]) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size == q.capacity
}

// IsEmpty reports whether the queue contains no items.
func (q *Queue[T]) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size == 0
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() *Statistics {
	return q.stats
}

// Close marks the queue closed. Enqueue fails afterwards; Dequeue keeps
// returning the remaining items until the queue is drained, then returns
// false. Blocked producers and consumers are woken.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue[T]) recordDrop() {
	q.stats.Overflow()
	q.stats.Drop()
	if q.metrics != nil {
		q.metrics.recordOverflow()
		q.metrics.recordDrop()
	}
}
