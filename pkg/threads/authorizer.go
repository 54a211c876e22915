// Package threads guards thread access and owns the thread lifecycle.
package threads

import (
	"github.com/pkg/errors"

	"assetdesk/pkg/apperr"
	"assetdesk/pkg/logger"
	"assetdesk/pkg/models"
	"assetdesk/pkg/store"
	"assetdesk/pkg/tools"
)

// Access is the outcome of a successful authorization.
type Access struct {
	Thread models.Thread
	// Capability carries the owner for tool handlers.
	Capability tools.Capability
}

// Authorize loads the thread fresh on every call. A missing thread is
// NotFound; with requireOwnership, a caller other than the owner is
// Forbidden. Without it, any caller may read an existing thread.
func Authorize(threadID, callerUserID string, requireOwnership bool) (Access, error) {
	if threadID == "" {
		return Access{}, apperr.Invalid("threadId", "threadId is required")
	}
	if requireOwnership && callerUserID == "" {
		return Access{}, apperr.Unauthenticated("user is required")
	}
	th, err := store.GetThread(threadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Access{}, apperr.NotFound("thread not found")
		}
		return Access{}, errors.Wrap(err, "load thread")
	}
	if requireOwnership && th.UserID != callerUserID {
		logger.Warn("thread_access_denied", "thread", threadID, "caller", callerUserID, "owner", th.UserID)
		return Access{}, apperr.Forbidden()
	}
	return Access{
		Thread:     th,
		Capability: tools.Capability{ThreadID: th.ID, UserID: th.UserID},
	}, nil
}
