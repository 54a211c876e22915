// Package ingest runs background work pulled from the in-memory queue.
// Work is fire-once: a failed handler is logged and counted, never retried.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"assetdesk/pkg/ingest/queue"
	"assetdesk/pkg/logger"
	"assetdesk/pkg/metrics"
)

// HandlerFunc processes one op. The op and its payload are only valid for
// the duration of the call.
type HandlerFunc func(ctx context.Context, op *queue.Op) error

// Processor owns a worker pool that dispatches queued ops by HandlerID.
type Processor struct {
	q        *queue.Queue
	workers  int
	mu       sync.RWMutex
	handlers map[queue.HandlerID]HandlerFunc
	onDrop   func(op queue.Op)

	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewProcessor creates a processor over q with the given worker count.
func NewProcessor(q *queue.Queue, workers int) *Processor {
	if workers <= 0 {
		workers = 1
	}
	return &Processor{
		q:        q,
		workers:  workers,
		handlers: map[queue.HandlerID]HandlerFunc{},
		stop:     make(chan struct{}),
	}
}

// RegisterHandler binds id to fn. Registering twice replaces the handler.
func (p *Processor) RegisterHandler(id queue.HandlerID, fn HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[id] = fn
}

// OnDropped registers fn to be told about ops discarded at shutdown.
func (p *Processor) OnDropped(fn func(op queue.Op)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDrop = fn
}

// Start launches the workers. Handlers run under a context derived from
// ctx that Stop cancels only after its grace period.
func (p *Processor) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			p.q.RunWorker(p.stop, func(op *queue.Op) error {
				return p.dispatch(worker, op)
			})
		}(i)
	}
	logger.Info("ingest_processor_started", "workers", p.workers, "capacity", p.q.Cap())
}

func (p *Processor) dispatch(worker int, op *queue.Op) (err error) {
	p.mu.RLock()
	fn, ok := p.handlers[op.Handler]
	p.mu.RUnlock()
	if !ok {
		logger.Warn("ingest_no_handler", "handler", op.Handler, "id", op.ID)
		metrics.QueueProcessed.WithLabelValues(string(op.Handler), "unhandled").Inc()
		return fmt.Errorf("no handler for %s", op.Handler)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", op.Handler, r)
		}
		result := "ok"
		if err != nil {
			result = "error"
			logger.Error("ingest_handler_failed", "handler", op.Handler, "thread", op.Thread, "id", op.ID, "worker", worker, "error", err)
		}
		metrics.QueueProcessed.WithLabelValues(string(op.Handler), result).Inc()
	}()

	logger.Debug("ingest_dispatch", "handler", op.Handler, "thread", op.Thread, "id", op.ID, "seq", op.EnqSeq,
		"waited", time.Since(time.Unix(0, op.TS)).String())
	return fn(p.ctx, op)
}

// Stop closes the queue and lets workers finish pending items. If ctx ends
// first, running handlers are cancelled and still-queued items are dropped.
func (p *Processor) Stop(ctx context.Context) error {
	var err error
	p.once.Do(func() {
		p.q.Close()
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			close(p.stop)
			if p.cancel != nil {
				p.cancel()
			}
			<-done
			p.mu.RLock()
			onDrop := p.onDrop
			p.mu.RUnlock()
			for _, op := range p.q.CloseAndDrain() {
				logger.Warn("ingest_dropped_on_shutdown", "handler", op.Handler, "thread", op.Thread, "id", op.ID)
				if onDrop != nil {
					onDrop(op)
				}
			}
			err = ctx.Err()
		}
		if p.cancel != nil {
			p.cancel()
		}
		logger.Info("ingest_processor_stopped")
	})
	return err
}
