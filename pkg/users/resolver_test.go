package users

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetdesk/pkg/apperr"
	"assetdesk/pkg/auth"
	"assetdesk/pkg/models"
	"assetdesk/pkg/store"
)

func openTemp(t *testing.T) {
	t.Helper()
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Ada", DisplayName(auth.Identity{Name: "Ada", Nickname: "ada", Email: "a@x"}))
	assert.Equal(t, "ada", DisplayName(auth.Identity{Nickname: "ada", Email: "a@x"}))
	assert.Equal(t, "a@x", DisplayName(auth.Identity{Email: "a@x"}))
	assert.Equal(t, "Anonymous", DisplayName(auth.Identity{Subject: "s"}))
}

func TestEnsure_NoIdentity(t *testing.T) {
	openTemp(t)
	_, err := NewResolver().Ensure(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
}

func TestEnsure_CreatesOnceAndReconciles(t *testing.T) {
	openTemp(t)
	r := NewResolver()
	ctx := auth.WithIdentity(context.Background(), auth.Identity{Subject: "ext-1", TokenIdentifier: "iss|ext-1", Name: "Ada", Email: "ada@example.com"})

	first, err := r.Ensure(ctx)
	require.NoError(t, err)
	second, err := r.Ensure(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	renamed := auth.WithIdentity(context.Background(), auth.Identity{Subject: "ext-1", TokenIdentifier: "iss|ext-1", Name: "Ada Lovelace", Email: "ada@example.com"})
	third, err := r.Ensure(renamed)
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	stored, err := store.GetUser(first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", stored.Name)
}

func TestEnsure_ConcurrentSingleRecord(t *testing.T) {
	openTemp(t)
	r := NewResolver()
	id := auth.Identity{Subject: "ext-race", Email: "race@example.com"}

	var wg sync.WaitGroup
	ids := make([]string, 32)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := r.EnsureIdentity(id)
			if err == nil {
				ids[i] = u.ID
			}
		}(i)
	}
	wg.Wait()
	for _, got := range ids {
		assert.Equal(t, ids[0], got)
	}
	all, err := store.ListUsers(func(u *models.User) bool { return u.ExternalID == "ext-race" }, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCurrent_NotProvisioned(t *testing.T) {
	openTemp(t)
	ctx := auth.WithIdentity(context.Background(), auth.Identity{Subject: "nobody"})
	_, err := NewResolver().Current(ctx)
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
}
