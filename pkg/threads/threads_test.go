package threads

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetdesk/pkg/apperr"
	"assetdesk/pkg/config"
	"assetdesk/pkg/models"
	"assetdesk/pkg/store"
	"assetdesk/pkg/stream"
)

func openTemp(t *testing.T) {
	t.Helper()
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "my laptop will not boot after", DeriveTitle("  my laptop will not boot after the update ", 6, 50))
	long := DeriveTitle("supercalifragilisticexpialidocious antidisestablishmentarianism pneumonoultramicroscopic", 6, 50)
	assert.Len(t, long, 50)
	assert.True(t, strings.HasSuffix(long, "..."))
	assert.Equal(t, "", DeriveTitle("   ", 6, 50))
}

func TestAuthorize(t *testing.T) {
	openTemp(t)
	s := NewService(nil, config.ChatConfig{})
	th, err := s.Create("owner", "")
	require.NoError(t, err)

	acc, err := Authorize(th.ID, "owner", true)
	require.NoError(t, err)
	assert.Equal(t, "owner", acc.Capability.UserID)
	assert.Equal(t, th.ID, acc.Capability.ThreadID)

	_, err = Authorize(th.ID, "intruder", true)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
	assert.Equal(t, "not authorized", err.Error())

	_, err = Authorize(th.ID, "intruder", false)
	assert.NoError(t, err)

	_, err = Authorize("missing", "owner", true)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, "thread not found", err.Error())
}

func TestDelete_PurgesEverything(t *testing.T) {
	openTemp(t)
	log := stream.New()
	s := NewService(log, config.ChatConfig{PurgeBatchSize: 4})
	th, err := s.Create("owner", "help")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := store.AppendMessage(models.Message{
			ID: fmt.Sprintf("m%d", i), ThreadID: th.ID, Role: models.RoleUser, UserID: "owner", Text: "hi", Status: models.StatusComplete,
		}, store.AppendOptions{})
		require.NoError(t, err)
	}
	sub := log.Subscribe(th.ID, 4)

	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(s.Delete(context.Background(), th.ID, "intruder")))
	require.NoError(t, s.Delete(context.Background(), th.ID, "owner"))

	_, open := <-sub.C
	assert.False(t, open)
	_, err = store.GetMessage("m3")
	assert.ErrorIs(t, err, store.ErrNotFound)
	list, err := s.List("owner", 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	err = s.Delete(context.Background(), th.ID, "owner")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestResumePurges(t *testing.T) {
	openTemp(t)
	s := NewService(nil, config.ChatConfig{})
	th, err := s.Create("owner", "")
	require.NoError(t, err)
	_, err = store.MarkThreadDeleting(th.ID)
	require.NoError(t, err)

	n, err := s.ResumePurges(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	left, err := store.ListDeletingThreads(0)
	require.NoError(t, err)
	assert.Empty(t, left)
}
