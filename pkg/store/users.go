package store

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"assetdesk/pkg/logger"
	"assetdesk/pkg/models"
)

// userMu serializes the read-modify-write in UpsertUserByExternalID.
var userMu sync.Mutex

// GetUser loads a user by internal id.
func GetUser(id string) (models.User, error) {
	var u models.User
	err := getJSON(userKey(id), &u)
	return u, err
}

// GetUserByExternalID resolves the identity subject index.
func GetUserByExternalID(ext string) (models.User, error) {
	raw, err := getRaw([]byte(userExtKey(ext)))
	if err != nil {
		return models.User{}, err
	}
	return GetUser(string(raw))
}

// UpsertUserByExternalID looks up the user for ext and lets fn decide what
// to write. fn receives nil when no user exists and returns the record to
// persist and whether anything changed. The lookup and write happen under
// one lock so an identity maps to exactly one user.
func UpsertUserByExternalID(ext string, fn func(existing *models.User) (models.User, bool)) (models.User, error) {
	if db == nil {
		return models.User{}, ErrNotOpen
	}
	userMu.Lock()
	defer userMu.Unlock()

	var existing *models.User
	u, err := GetUserByExternalID(ext)
	switch {
	case err == nil:
		existing = &u
	case errors.Is(err, ErrNotFound):
	default:
		return models.User{}, err
	}

	next, changed := fn(existing)
	if !changed {
		return next, nil
	}
	if next.ID == "" || next.ExternalID != ext {
		return models.User{}, errors.New("upsert must keep a user id and the external id")
	}
	b := db.NewBatch()
	defer b.Close()
	if err := setJSON(b, userKey(next.ID), next); err != nil {
		return models.User{}, err
	}
	if err := b.Set([]byte(userExtKey(ext)), []byte(next.ID), nil); err != nil {
		return models.User{}, err
	}
	if err := commit(b, userKey(next.ID)); err != nil {
		return models.User{}, err
	}
	logger.Log.Info("user_saved", zap.String("user", next.ID), zap.Bool("created", existing == nil))
	return next, nil
}

// ListUsers returns users accepted by keep, up to limit.
func ListUsers(keep func(*models.User) bool, limit int) ([]models.User, error) {
	return decodeEach("user:", keep, limit)
}
