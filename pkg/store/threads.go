package store

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"assetdesk/pkg/logger"
	"assetdesk/pkg/models"
)

// CreateThread writes thread metadata and the owner listing index.
func CreateThread(th models.Thread) error {
	if db == nil {
		return ErrNotOpen
	}
	if th.ID == "" || th.UserID == "" {
		return errors.New("thread id and owner are required")
	}
	if th.CreatedTS == 0 {
		th.CreatedTS = time.Now().UTC().UnixNano()
	}
	b := db.NewBatch()
	defer b.Close()
	if err := setJSON(b, threadMetaKey(th.ID), th); err != nil {
		return err
	}
	if err := b.Set([]byte(ownerKey(th.UserID, th.CreatedTS, th.ID)), nil, nil); err != nil {
		return err
	}
	if err := commit(b, threadMetaKey(th.ID)); err != nil {
		return err
	}
	logger.Log.Info("thread_created", zap.String("thread", th.ID), zap.String("user", th.UserID))
	return nil
}

// GetThread returns thread metadata, or ErrNotFound. Threads being purged
// are reported as missing.
func GetThread(threadID string) (models.Thread, error) {
	var th models.Thread
	if err := getJSON(threadMetaKey(threadID), &th); err != nil {
		return th, err
	}
	if th.Deleting {
		return models.Thread{}, ErrNotFound
	}
	return th, nil
}

// SetThreadTitle overwrites the title. Auto-titling goes through
// AppendMessage instead.
func SetThreadTitle(threadID, title string) error {
	mu := lockFor(threadID)
	mu.Lock()
	defer mu.Unlock()
	th, err := GetThread(threadID)
	if err != nil {
		return err
	}
	th.Title = title
	th.UpdatedTS = time.Now().UTC().UnixNano()
	return putJSON(threadMetaKey(threadID), th)
}

// ListThreadsByOwner returns the user's threads, newest first.
func ListThreadsByOwner(userID string, limit int) ([]models.Thread, error) {
	var out []models.Thread
	prefix := ownerPrefix(userID)
	err := scanPrefixReverse([]byte(prefix), func(k, _ []byte) (bool, error) {
		rest := strings.TrimPrefix(string(k), prefix)
		i := strings.IndexByte(rest, ':')
		if i < 0 {
			return true, nil
		}
		th, err := GetThread(rest[i+1:])
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return true, nil
			}
			return false, err
		}
		out = append(out, th)
		return limit <= 0 || len(out) < limit, nil
	})
	return out, err
}

// MarkThreadDeleting flags the thread so readers stop seeing it while
// PurgeThreadBatch runs.
func MarkThreadDeleting(threadID string) (models.Thread, error) {
	mu := lockFor(threadID)
	mu.Lock()
	defer mu.Unlock()
	var th models.Thread
	if err := getJSON(threadMetaKey(threadID), &th); err != nil {
		return th, err
	}
	if th.Deleting {
		return th, nil
	}
	th.Deleting = true
	th.UpdatedTS = time.Now().UTC().UnixNano()
	b := db.NewBatch()
	defer b.Close()
	if err := setJSON(b, threadMetaKey(threadID), th); err != nil {
		return th, err
	}
	if err := b.Set([]byte(deletingKey(threadID)), nil, nil); err != nil {
		return th, err
	}
	return th, commit(b, threadMetaKey(threadID))
}

// ListDeletingThreads returns threads whose purge started but never
// finished, e.g. because the process stopped mid-loop.
func ListDeletingThreads(limit int) ([]string, error) {
	var out []string
	err := scanPrefix([]byte("deleting:"), func(k, _ []byte) (bool, error) {
		out = append(out, strings.TrimPrefix(string(k), "deleting:"))
		return limit <= 0 || len(out) < limit, nil
	})
	return out, err
}

// PurgeThreadBatch deletes up to limit keys owned by the thread, excluding
// its metadata. It reports done once nothing but metadata remains. Safe to
// call again after a crash.
func PurgeThreadBatch(threadID string, limit int) (done bool, deleted int, err error) {
	if db == nil {
		return false, 0, ErrNotOpen
	}
	if limit <= 0 {
		limit = 100
	}
	meta := threadMetaKey(threadID)
	b := db.NewBatch()
	defer b.Close()
	more := false
	err = scanPrefix([]byte(threadPrefix(threadID)), func(k, v []byte) (bool, error) {
		key := string(k)
		if key == meta {
			return true, nil
		}
		if deleted >= limit {
			more = true
			return false, nil
		}
		if strings.HasPrefix(key, msgPrefix(threadID)) {
			if id := messageIDOf(v); id != "" {
				if err := b.Delete([]byte(msgIndexKey(id)), nil); err != nil {
					return false, err
				}
				if err := b.Delete([]byte(streamingKey(id)), nil); err != nil {
					return false, err
				}
			}
		}
		if err := b.Delete(append([]byte(nil), k...), nil); err != nil {
			return false, err
		}
		deleted++
		return true, nil
	})
	if err != nil {
		return false, deleted, err
	}
	if deleted > 0 {
		if err := commit(b, threadPrefix(threadID)); err != nil {
			return false, 0, err
		}
	}
	logger.Log.Debug("thread_purge_batch", zap.String("thread", threadID), zap.Int("deleted", deleted), zap.Bool("more", more))
	return !more, deleted, nil
}

// DeleteThreadMeta removes the metadata and owner index. Call after
// PurgeThreadBatch reports done.
func DeleteThreadMeta(threadID string) error {
	if db == nil {
		return ErrNotOpen
	}
	var th models.Thread
	if err := getJSON(threadMetaKey(threadID), &th); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	b := db.NewBatch()
	defer b.Close()
	if err := b.Delete([]byte(ownerKey(th.UserID, th.CreatedTS, th.ID)), nil); err != nil {
		return err
	}
	if err := b.Delete([]byte(threadMetaKey(threadID)), nil); err != nil {
		return err
	}
	if err := b.Delete([]byte(deletingKey(threadID)), nil); err != nil {
		return err
	}
	if err := commit(b, threadMetaKey(threadID)); err != nil {
		return err
	}
	logger.Log.Info("thread_deleted", zap.String("thread", threadID))
	return nil
}
