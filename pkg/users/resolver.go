// Package users maps verified identities to local user records.
package users

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"assetdesk/pkg/apperr"
	"assetdesk/pkg/auth"
	"assetdesk/pkg/logger"
	"assetdesk/pkg/models"
	"assetdesk/pkg/store"
	"assetdesk/pkg/utils"
)

// Resolver creates or reconciles the user behind an identity.
type Resolver struct {
	group singleflight.Group
	now   func() time.Time
}

func NewResolver() *Resolver {
	return &Resolver{now: time.Now}
}

// DisplayName picks name, then nickname, then email, then "Anonymous".
func DisplayName(id auth.Identity) string {
	for _, s := range []string{id.Name, id.Nickname, id.Email} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return "Anonymous"
}

// Ensure returns the user for the identity in ctx, creating it on first
// sight and refreshing name, email and token identifier when they changed.
func (r *Resolver) Ensure(ctx context.Context) (models.User, error) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return models.User{}, apperr.Unauthenticated("not authenticated")
	}
	return r.EnsureIdentity(id)
}

// EnsureIdentity is Ensure for an identity the caller already holds.
// Concurrent calls for one subject share a single store round trip; the
// store's upsert lock covers callers that miss the shared flight.
func (r *Resolver) EnsureIdentity(id auth.Identity) (models.User, error) {
	if strings.TrimSpace(id.Subject) == "" {
		return models.User{}, apperr.Unauthenticated("not authenticated")
	}
	v, err, shared := r.group.Do(id.Subject, func() (interface{}, error) {
		return store.UpsertUserByExternalID(id.Subject, func(existing *models.User) (models.User, bool) {
			return r.reconcile(existing, id)
		})
	})
	if err != nil {
		logger.Error("ensure_user_failed", "subject", id.Subject, "error", err)
		return models.User{}, err
	}
	if shared {
		logger.Debug("ensure_user_shared", "subject", id.Subject)
	}
	return v.(models.User), nil
}

func (r *Resolver) reconcile(existing *models.User, id auth.Identity) (models.User, bool) {
	name := DisplayName(id)
	email := strings.TrimSpace(id.Email)
	if existing == nil {
		return models.User{
			ID:              utils.NewEntityID(),
			ExternalID:      id.Subject,
			TokenIdentifier: id.TokenIdentifier,
			Name:            name,
			Email:           email,
			CreatedAt:       r.now().UTC(),
		}, true
	}
	u := *existing
	changed := false
	if u.Name != name {
		u.Name = name
		changed = true
	}
	if email != "" && u.Email != email {
		u.Email = email
		changed = true
	}
	if id.TokenIdentifier != "" && u.TokenIdentifier != id.TokenIdentifier {
		u.TokenIdentifier = id.TokenIdentifier
		changed = true
	}
	return u, changed
}

// Current resolves the caller without creating a record.
func (r *Resolver) Current(ctx context.Context) (models.User, error) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return models.User{}, apperr.Unauthenticated("not authenticated")
	}
	u, err := store.GetUserByExternalID(id.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.User{}, apperr.Unauthenticated("user not provisioned")
		}
		return models.User{}, err
	}
	return u, nil
}
