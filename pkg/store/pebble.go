package store

import (
	"bytes"
	"encoding/json"
	"hash/fnv"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"assetdesk/pkg/logger"
)

var (
	db     *pebble.DB
	dbPath string
)

// ErrNotFound is returned when a key is absent.
var ErrNotFound = errors.New("not found")

// ErrNotOpen is returned by every accessor before Open.
var ErrNotOpen = errors.New("pebble not opened; call store.Open first")

// threadLocks serializes appends per thread. Striping keeps memory bounded.
var threadLocks [64]sync.Mutex

func lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &threadLocks[h.Sum32()%uint32(len(threadLocks))]
}

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for the package.
func Open(path string) error {
	var err error
	logger.Log.Info("opening_pebble_db", zap.String("path", path))
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Log.Error("pebble_open_failed", zap.String("path", path), zap.Error(err))
		return errors.Wrapf(err, "open pebble at %s", path)
	}
	dbPath = path
	logger.Log.Info("pebble_opened", zap.String("path", path))
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	dbPath = ""
	logger.Log.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func getRaw(key []byte) ([]byte, error) {
	if db == nil {
		return nil, ErrNotOpen
	}
	v, closer, err := db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

func getJSON(key string, out any) error {
	b, err := getRaw([]byte(key))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return errors.Wrapf(err, "decode %s", key)
	}
	return nil
}

func setJSON(b *pebble.Batch, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	return b.Set([]byte(key), data, nil)
}

func putJSON(key string, v any) error {
	if db == nil {
		return ErrNotOpen
	}
	b := db.NewBatch()
	defer b.Close()
	if err := setJSON(b, key, v); err != nil {
		return err
	}
	return commit(b, key)
}

func commit(b *pebble.Batch, what string) error {
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Log.Error("pebble_commit_failed", zap.String("key", what), zap.Error(err))
		return errors.Wrapf(err, "commit %s", what)
	}
	return nil
}

// scanPrefix calls fn for each key under prefix in ascending order until fn
// returns false. Key and value are only valid during the call.
func scanPrefix(prefix []byte, fn func(k, v []byte) (bool, error)) error {
	return scanFrom(prefix, prefix, fn)
}

// scanFrom is scanPrefix starting at the first key >= start.
func scanFrom(prefix, start []byte, fn func(k, v []byte) (bool, error)) error {
	if db == nil {
		return ErrNotOpen
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.SeekGE(start); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		cont, err := fn(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return iter.Error()
}

// scanPrefixReverse is scanPrefix in descending key order.
func scanPrefixReverse(prefix []byte, fn func(k, v []byte) (bool, error)) error {
	if db == nil {
		return ErrNotOpen
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.SeekLT(prefixEnd(prefix)); iter.Valid(); iter.Prev() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		cont, err := fn(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return iter.Error()
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func decodeEach[T any](prefix string, keep func(*T) bool, limit int) ([]T, error) {
	var out []T
	err := scanPrefix([]byte(prefix), func(k, v []byte) (bool, error) {
		var item T
		if err := json.Unmarshal(v, &item); err != nil {
			logger.Log.Warn("store_skip_corrupt_value", zap.ByteString("key", k), zap.Error(err))
			return true, nil
		}
		if keep == nil || keep(&item) {
			out = append(out, item)
		}
		return limit <= 0 || len(out) < limit, nil
	})
	return out, err
}
