package threads

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"

	"assetdesk/pkg/apperr"
	"assetdesk/pkg/config"
	"assetdesk/pkg/logger"
	"assetdesk/pkg/models"
	"assetdesk/pkg/store"
	"assetdesk/pkg/stream"
	"assetdesk/pkg/utils"
)

// Service creates, lists and deletes threads.
type Service struct {
	streams    *stream.Log
	purgeBatch int
	titleWords int
	titleChars int
}

func NewService(streams *stream.Log, cfg config.ChatConfig) *Service {
	s := &Service{streams: streams, purgeBatch: cfg.PurgeBatchSize, titleWords: cfg.TitleMaxWords, titleChars: cfg.TitleMaxChars}
	if s.purgeBatch <= 0 {
		s.purgeBatch = 100
	}
	if s.titleWords <= 0 {
		s.titleWords = 6
	}
	if s.titleChars <= 3 {
		s.titleChars = 50
	}
	return s
}

// DeriveTitle takes the first maxWords words of prompt. Titles longer than
// maxChars are cut to maxChars-3 characters plus "...".
func DeriveTitle(prompt string, maxWords, maxChars int) string {
	words := strings.Fields(prompt)
	if len(words) > maxWords {
		words = words[:maxWords]
	}
	title := strings.Join(words, " ")
	if utf8.RuneCountInString(title) > maxChars {
		r := []rune(title)
		title = string(r[:maxChars-3]) + "..."
	}
	return title
}

// Title derives a thread title with the configured limits.
func (s *Service) Title(prompt string) string {
	return DeriveTitle(prompt, s.titleWords, s.titleChars)
}

// Create makes a new thread owned by ownerID.
func (s *Service) Create(ownerID, title string) (models.Thread, error) {
	if ownerID == "" {
		return models.Thread{}, apperr.Unauthenticated("not authenticated")
	}
	now := time.Now().UTC().UnixNano()
	th := models.Thread{
		ID:        utils.NewThreadID(),
		Title:     strings.TrimSpace(title),
		UserID:    ownerID,
		CreatedTS: now,
		UpdatedTS: now,
	}
	if err := store.CreateThread(th); err != nil {
		return models.Thread{}, errors.Wrap(err, "create thread")
	}
	return th, nil
}

// Get returns thread details to any authenticated caller.
func (s *Service) Get(threadID, callerUserID string) (models.Thread, error) {
	acc, err := Authorize(threadID, callerUserID, false)
	return acc.Thread, err
}

// List returns the caller's threads, newest first.
func (s *Service) List(ownerID string, limit int) ([]models.Thread, error) {
	if ownerID == "" {
		return nil, apperr.Unauthenticated("not authenticated")
	}
	return store.ListThreadsByOwner(ownerID, limit)
}

// Delete removes a thread owned by the caller: it is hidden first, then
// purged in batches until empty, then its metadata goes. Live subscribers
// are disconnected.
func (s *Service) Delete(ctx context.Context, threadID, callerUserID string) error {
	if _, err := Authorize(threadID, callerUserID, true); err != nil {
		return err
	}
	if _, err := store.MarkThreadDeleting(threadID); err != nil {
		return errors.Wrap(err, "mark thread deleting")
	}
	if s.streams != nil {
		s.streams.CloseThread(threadID)
	}
	return s.purge(ctx, threadID)
}

func (s *Service) purge(ctx context.Context, threadID string) error {
	total, rounds := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			logger.Warn("thread_purge_interrupted", "thread", threadID, "deleted", total)
			return err
		}
		done, n, err := store.PurgeThreadBatch(threadID, s.purgeBatch)
		if err != nil {
			return errors.Wrap(err, "purge thread")
		}
		total += n
		rounds++
		if done {
			break
		}
	}
	if err := store.DeleteThreadMeta(threadID); err != nil {
		return errors.Wrap(err, "delete thread metadata")
	}
	logger.Info("thread_purged", "thread", threadID, "deleted", total, "rounds", rounds)
	return nil
}

// ResumePurges finishes deletions left behind by an earlier process.
func (s *Service) ResumePurges(ctx context.Context, limit int) (int, error) {
	ids, err := store.ListDeletingThreads(limit)
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		if err := s.purge(ctx, id); err != nil {
			return i, err
		}
	}
	return len(ids), nil
}
