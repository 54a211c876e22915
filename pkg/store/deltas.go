package store

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"assetdesk/pkg/models"
)

// ErrStreamClosed is returned when a delta is appended after the stream's
// terminal status delta.
var ErrStreamClosed = errors.New("stream already finished")

// AppendDelta assigns the next position in the (thread, stream) log and
// persists the delta. It shares the thread lock with MarkThreadDeleting, so
// nothing is written under a thread once its purge has started, and a
// stream accepts no delta after a complete or error status.
func AppendDelta(d models.Delta) (models.Delta, error) {
	if db == nil {
		return d, ErrNotOpen
	}
	if d.ThreadID == "" || d.MessageID == "" {
		return d, errors.New("delta requires thread and stream ids")
	}
	mu := lockFor(d.ThreadID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := GetThread(d.ThreadID); err != nil {
		return d, err
	}
	next, last, err := lastDelta(d.ThreadID, d.MessageID)
	if err != nil {
		return d, err
	}
	if last != nil && last.Kind == models.DeltaStatus && last.Status.Finished() {
		return d, ErrStreamClosed
	}
	d.Pos = next
	if d.TS == 0 {
		d.TS = time.Now().UTC().UnixNano()
	}
	return d, putJSON(deltaKey(d.ThreadID, d.MessageID, d.Pos), d)
}

// lastDelta returns the next free position of a stream and its newest delta.
func lastDelta(threadID, streamID string) (uint64, *models.Delta, error) {
	var next uint64
	var last *models.Delta
	prefix := deltaPrefix(threadID, streamID)
	err := scanPrefixReverse([]byte(prefix), func(k, v []byte) (bool, error) {
		p, err := strconv.ParseUint(strings.TrimPrefix(string(k), prefix), 10, 64)
		if err != nil {
			return false, errors.Wrapf(err, "corrupt delta key %s", k)
		}
		next = p + 1
		var d models.Delta
		if err := json.Unmarshal(v, &d); err != nil {
			return false, errors.Wrapf(err, "decode %s", k)
		}
		last = &d
		return false, nil
	})
	return next, last, err
}

// ListDeltas returns deltas of one stream with Pos >= from, up to limit.
func ListDeltas(threadID, streamID string, from uint64, limit int) ([]models.Delta, error) {
	var out []models.Delta
	prefix := []byte(deltaPrefix(threadID, streamID))
	start := []byte(deltaKey(threadID, streamID, from))
	err := scanFrom(prefix, start, func(k, v []byte) (bool, error) {
		var d models.Delta
		if err := json.Unmarshal(v, &d); err != nil {
			return false, errors.Wrapf(err, "decode %s", k)
		}
		out = append(out, d)
		return limit <= 0 || len(out) < limit, nil
	})
	return out, err
}

// FinishedStream is a delta log whose message has completed.
type FinishedStream struct {
	Key      string
	ThreadID string
	StreamID string
	TS       int64
}

// ListFinishedBefore returns finished delta logs recorded before cutoff,
// oldest first.
func ListFinishedBefore(cutoff time.Time, limit int) ([]FinishedStream, error) {
	var out []FinishedStream
	c := cutoff.UTC().UnixNano()
	err := scanPrefix([]byte("finished:"), func(k, _ []byte) (bool, error) {
		parts := strings.SplitN(strings.TrimPrefix(string(k), "finished:"), ":", 3)
		if len(parts) != 3 {
			return true, nil
		}
		ts, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil || ts >= c {
			return false, nil
		}
		out = append(out, FinishedStream{Key: string(k), ThreadID: parts[1], StreamID: parts[2], TS: ts})
		return limit <= 0 || len(out) < limit, nil
	})
	return out, err
}

// DropDeltas deletes a finished stream's deltas and its compaction entry.
func DropDeltas(fs FinishedStream) (int, error) {
	if db == nil {
		return 0, ErrNotOpen
	}
	b := db.NewBatch()
	defer b.Close()
	n := 0
	err := scanPrefix([]byte(deltaPrefix(fs.ThreadID, fs.StreamID)), func(k, _ []byte) (bool, error) {
		n++
		return true, b.Delete(append([]byte(nil), k...), nil)
	})
	if err != nil {
		return 0, err
	}
	if err := b.Delete([]byte(fs.Key), nil); err != nil {
		return 0, err
	}
	return n, commit(b, fs.Key)
}
