package queue

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// HandlerID names the handler a worker dispatches an Op to. The enqueuing
// code sets it; workers never inspect payloads to choose.
type HandlerID string

const (
	// HandlerGenerate runs one assistant generation for a persisted prompt.
	HandlerGenerate HandlerID = "chat.generate"
)

// Op is one unit of background work. Payload may be backed by a pooled
// buffer and is only valid until the handler returns.
type Op struct {
	Handler HandlerID
	Thread  string
	// ID is the subject of the op, e.g. the prompt message id.
	ID      string
	Payload []byte
	// TS is the enqueue time in unix nanoseconds.
	TS int64
	// EnqSeq is a monotonic sequence assigned on acceptance.
	EnqSeq uint64
	// Extras carries request metadata such as the request id.
	Extras map[string]string
}

// Item wraps an Op and owns its pooled buffer. Done must be called exactly
// once after processing.
type Item struct {
	Op *Op

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
	q    *Queue
}

// Done releases the buffer and op back to their pools.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.q != nil {
			atomic.AddInt64(&it.q.inFlight, -1)
		}
		if it.buf != nil {
			if it.q == nil || cap(it.buf.B) <= it.q.maxPooled {
				bytebufferpool.Put(it.buf)
			}
			it.buf = nil
		}
		it.q = nil
		if it.Op != nil {
			it.Op.Payload = nil
			it.Op.Extras = nil
			opPool.Put(it.Op)
			it.Op = nil
		}
	})
}

var opPool = sync.Pool{New: func() any { return &Op{} }}

// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
var ErrQueueFull = errors.New("ingest queue full")

// ErrQueueClosed is returned when enqueue is attempted after Close.
var ErrQueueClosed = errors.New("ingest queue closed")
