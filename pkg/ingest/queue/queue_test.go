package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTryEnqueueAndDrop(t *testing.T) {
	q := New(Options{Capacity: 2})

	if err := q.EnqueueOp(HandlerGenerate, "t1", "m1", nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.EnqueueOp(HandlerGenerate, "t1", "m2", nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.EnqueueOp(HandlerGenerate, "t1", "m3", nil, nil); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if q.Dropped() != 1 || q.Accepted() != 2 {
		t.Fatalf("dropped=%d accepted=%d", q.Dropped(), q.Accepted())
	}
	if q.InFlight() != 2 {
		t.Fatalf("expected 2 in flight, got %d", q.InFlight())
	}
}

func TestPayloadIsCopied(t *testing.T) {
	q := New(Options{Capacity: 1})
	payload := []byte(`{"model":"gpt-a"}`)
	if err := q.EnqueueBytes(context.Background(), HandlerGenerate, "t1", "m1", payload); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	payload[2] = 'X'

	it := <-q.Out()
	if string(it.Op.Payload) != `{"model":"gpt-a"}` {
		t.Fatalf("payload aliased caller buffer: %s", it.Op.Payload)
	}
	if it.Op.EnqSeq == 0 || it.Op.TS == 0 {
		t.Fatalf("expected seq and ts to be assigned")
	}
	it.Done()
	it.Done()
	if q.InFlight() != 0 {
		t.Fatalf("expected in flight to return to 0, got %d", q.InFlight())
	}
}

func TestEnqueueWithContextCancel(t *testing.T) {
	q := New(Options{Capacity: 1})
	if err := q.EnqueueBytes(context.Background(), HandlerGenerate, "t1", "m1", nil); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.EnqueueBytes(ctx, HandlerGenerate, "t1", "m2", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRunWorkerDrainsAfterClose(t *testing.T) {
	q := New(Options{Capacity: 8})
	for _, id := range []string{"a", "b", "c"} {
		if err := q.EnqueueOp(HandlerGenerate, "t1", id, []byte(id), nil); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	q.Close()
	if err := q.EnqueueOp(HandlerGenerate, "t1", "late", nil, nil); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{})
	go func() {
		q.RunWorker(make(chan struct{}), func(op *Op) error {
			mu.Lock()
			seen = append(seen, op.ID)
			mu.Unlock()
			return nil
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker did not exit after queue closed")
	}
	if len(seen) != 3 || seen[0] != "a" || seen[2] != "c" {
		t.Fatalf("unexpected processing order: %v", seen)
	}
}

func TestCloseAndDrainReturnsPending(t *testing.T) {
	q := New(Options{Capacity: 4})
	_ = q.EnqueueOp(HandlerGenerate, "t1", "m1", []byte("p"), map[string]string{"request_id": "r1"})
	dropped := q.CloseAndDrain()
	if len(dropped) != 1 || dropped[0].ID != "m1" || string(dropped[0].Payload) != "p" {
		t.Fatalf("unexpected drained ops: %+v", dropped)
	}
	if q.InFlight() != 0 {
		t.Fatalf("expected in flight 0, got %d", q.InFlight())
	}
}
