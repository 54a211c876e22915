package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/bytebufferpool"
)

const (
	fallbackQueueCapacity = 256
	defaultMaxPooled      = 256 * 1024
)

// Queue is a bounded, concurrency-safe in-memory queue of Ops.
type Queue struct {
	ch        chan *Item
	capacity  int
	maxPooled int

	enqSeq   uint64
	dropped  uint64
	accepted uint64
	closed   int32
	inFlight int64

	// enqMu lets Close wait out enqueuers that already passed the closed check.
	enqMu     sync.RWMutex
	closeOnce sync.Once
}

// Options tunes a Queue.
type Options struct {
	Capacity int
	// MaxPooledBuffer is the largest payload buffer returned to the pool.
	MaxPooledBuffer int
}

// New creates a bounded Queue.
func New(opts Options) *Queue {
	if opts.Capacity <= 0 {
		opts.Capacity = fallbackQueueCapacity
	}
	if opts.MaxPooledBuffer <= 0 {
		opts.MaxPooledBuffer = defaultMaxPooled
	}
	return &Queue{
		ch:        make(chan *Item, opts.Capacity),
		capacity:  opts.Capacity,
		maxPooled: opts.MaxPooledBuffer,
	}
}

// Out exposes items for consumers. Do not close it.
func (q *Queue) Out() <-chan *Item { return q.ch }

// prepare copies op into pooled storage.
func (q *Queue) prepare(op *Op) *Item {
	newOp := opPool.Get().(*Op)
	*newOp = *op
	if op.Extras != nil {
		m := make(map[string]string, len(op.Extras))
		for k, v := range op.Extras {
			m[k] = v
		}
		newOp.Extras = m
	}
	if newOp.TS == 0 {
		newOp.TS = time.Now().UTC().UnixNano()
	}
	newOp.EnqSeq = atomic.AddUint64(&q.enqSeq, 1)

	var bb *bytebufferpool.ByteBuffer
	if len(op.Payload) > 0 {
		bb = bytebufferpool.Get()
		bb.B = append(bb.B[:0], op.Payload...)
		newOp.Payload = bb.B[:len(op.Payload)]
	}
	return &Item{Op: newOp, buf: bb, q: q}
}

func (q *Queue) reject(it *Item) {
	atomic.AddUint64(&q.dropped, 1)
	it.q = nil
	it.Done()
}

// TryEnqueue enqueues op without blocking. It returns ErrQueueFull when at
// capacity and ErrQueueClosed after Close.
func (q *Queue) TryEnqueue(op *Op) error {
	q.enqMu.RLock()
	defer q.enqMu.RUnlock()
	if atomic.LoadInt32(&q.closed) == 1 {
		return ErrQueueClosed
	}
	it := q.prepare(op)
	atomic.AddInt64(&q.inFlight, 1)
	select {
	case q.ch <- it:
		atomic.AddUint64(&q.accepted, 1)
		return nil
	default:
		atomic.AddInt64(&q.inFlight, -1)
		q.reject(it)
		return ErrQueueFull
	}
}

// Enqueue blocks until op is accepted, ctx is done, or the queue closes.
func (q *Queue) Enqueue(ctx context.Context, op *Op) error {
	q.enqMu.RLock()
	defer q.enqMu.RUnlock()
	if atomic.LoadInt32(&q.closed) == 1 {
		return ErrQueueClosed
	}
	it := q.prepare(op)
	atomic.AddInt64(&q.inFlight, 1)
	select {
	case q.ch <- it:
		atomic.AddUint64(&q.accepted, 1)
		return nil
	case <-ctx.Done():
		atomic.AddInt64(&q.inFlight, -1)
		q.reject(it)
		return ctx.Err()
	}
}

// RunWorker calls handler for each dequeued Op, always releasing the item.
// It returns when stop is closed or the queue is closed and empty.
func (q *Queue) RunWorker(stop <-chan struct{}, handler func(*Op) error) {
	for {
		// stop wins over pending items
		select {
		case <-stop:
			return
		default:
		}
		select {
		case it, ok := <-q.ch:
			if !ok {
				return
			}
			func(it *Item) {
				defer it.Done()
				_ = handler(it.Op)
			}(it)
		case <-stop:
			return
		}
	}
}
