package queue

import (
	"context"
	"sync/atomic"
)

// EnqueueOp builds an Op and enqueues it without blocking.
func (q *Queue) EnqueueOp(handler HandlerID, thread, id string, payload []byte, extras map[string]string) error {
	return q.TryEnqueue(&Op{Handler: handler, Thread: thread, ID: id, Payload: payload, Extras: extras})
}

// EnqueueBytes builds an Op and enqueues it, blocking until accepted.
func (q *Queue) EnqueueBytes(ctx context.Context, handler HandlerID, thread, id string, payload []byte) error {
	return q.Enqueue(ctx, &Op{Handler: handler, Thread: thread, ID: id, Payload: payload})
}

// Close stops accepting work. Items already queued stay readable until
// consumed; workers exit once the channel is empty. Close waits for
// blocked Enqueue calls to return.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		atomic.StoreInt32(&q.closed, 1)
		q.enqMu.Lock()
		close(q.ch)
		q.enqMu.Unlock()
	})
}

// CloseAndDrain closes the queue and releases every pending item unprocessed.
func (q *Queue) CloseAndDrain() []Op {
	q.Close()
	var dropped []Op
	for it := range q.ch {
		if it.Op != nil {
			op := *it.Op
			op.Payload = append([]byte(nil), it.Op.Payload...)
			dropped = append(dropped, op)
		}
		it.Done()
	}
	return dropped
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool { return atomic.LoadInt32(&q.closed) == 1 }

// Len returns the number of items waiting.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the configured capacity.
func (q *Queue) Cap() int { return q.capacity }

// InFlight returns accepted items not yet released by Done.
func (q *Queue) InFlight() int64 { return atomic.LoadInt64(&q.inFlight) }

// Dropped returns ops rejected because the queue was full or the enqueue
// context ended.
func (q *Queue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }

// Accepted returns ops accepted into the queue.
func (q *Queue) Accepted() uint64 { return atomic.LoadUint64(&q.accepted) }
