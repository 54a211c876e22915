// Package stream is the append-only delta log that carries incremental
// assistant output. Deltas are persisted through the store and fanned out
// to live subscribers; readers catch up with position cursors.
package stream

import (
	"sync"

	"github.com/pkg/errors"

	"assetdesk/pkg/logger"
	"assetdesk/pkg/models"
	"assetdesk/pkg/store"
)

// Log persists deltas and notifies subscribers of a thread.
type Log struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

// New returns an empty Log.
func New() *Log {
	return &Log{subs: map[string]map[*Subscription]struct{}{}}
}

// Append assigns the next position in the delta's stream, persists it and
// publishes it to the thread's subscribers.
func (l *Log) Append(d models.Delta) (models.Delta, error) {
	saved, err := store.AppendDelta(d)
	if err != nil {
		return d, errors.Wrapf(err, "append delta %s/%s", d.ThreadID, d.MessageID)
	}
	l.publish(saved)
	return saved, nil
}

// Read returns up to limit deltas at or after cursor and the cursor to
// resume from.
func (l *Log) Read(threadID, streamID string, cursor uint64, limit int) ([]models.Delta, uint64, error) {
	ds, err := store.ListDeltas(threadID, streamID, cursor, limit)
	if err != nil {
		return nil, cursor, err
	}
	next := cursor
	if n := len(ds); n > 0 {
		next = ds[n-1].Pos + 1
	}
	return ds, next, nil
}

// Subscription receives deltas appended to one thread after it was created.
// When the subscriber falls behind by more than its buffer, C is closed and
// Lagged reports true; the reader should resync with Read.
type Subscription struct {
	C <-chan models.Delta

	c        chan models.Delta
	log      *Log
	threadID string
	lagged   bool
	closed   bool
}

// Subscribe registers a subscriber for threadID with a buffer of size buf.
func (l *Log) Subscribe(threadID string, buf int) *Subscription {
	if buf <= 0 {
		buf = 64
	}
	c := make(chan models.Delta, buf)
	s := &Subscription{C: c, c: c, log: l, threadID: threadID}
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.subs[threadID]
	if !ok {
		set = map[*Subscription]struct{}{}
		l.subs[threadID] = set
	}
	set[s] = struct{}{}
	return s
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	s.detachLocked()
}

// Lagged reports whether deltas were dropped for this subscriber.
func (s *Subscription) Lagged() bool {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	return s.lagged
}

func (s *Subscription) detachLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.c)
	if set, ok := s.log.subs[s.threadID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.log.subs, s.threadID)
		}
	}
}

func (l *Log) publish(d models.Delta) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for s := range l.subs[d.ThreadID] {
		select {
		case s.c <- d:
		default:
			s.lagged = true
			s.detachLocked()
			logger.Warn("stream_subscriber_lagged", "thread", d.ThreadID, "stream", d.MessageID, "pos", d.Pos)
		}
	}
}

// CloseThread ends every subscription of a thread, e.g. after deletion.
func (l *Log) CloseThread(threadID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for s := range l.subs[threadID] {
		s.detachLocked()
	}
}

// Subscribers returns the number of live subscriptions for a thread.
func (l *Log) Subscribers(threadID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs[threadID])
}
