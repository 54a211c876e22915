package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetdesk/pkg/models"
)

func openTemp(t *testing.T) {
	t.Helper()
	require.NoError(t, Open(t.TempDir()))
	t.Cleanup(func() { _ = Close() })
}

func newThread(t *testing.T, id, owner string) {
	t.Helper()
	require.NoError(t, CreateThread(models.Thread{ID: id, UserID: owner}))
}

func userMsg(threadID, id, text string) models.Message {
	return models.Message{ID: id, ThreadID: threadID, Role: models.RoleUser, UserID: "u1", Text: text, Status: models.StatusComplete}
}

func TestAppendMessage_TitleOnlyOnFirstUserMessage(t *testing.T) {
	openTemp(t)
	newThread(t, "t1", "u1")

	res, err := AppendMessage(userMsg("t1", "m1", "hello"), AppendOptions{TitleIfFirstUser: "hello"})
	require.NoError(t, err)
	assert.True(t, res.Titled)
	assert.Equal(t, uint64(1), res.Message.Seq)

	res, err = AppendMessage(userMsg("t1", "m2", "second"), AppendOptions{TitleIfFirstUser: "second"})
	require.NoError(t, err)
	assert.False(t, res.Titled)

	th, err := GetThread("t1")
	require.NoError(t, err)
	assert.Equal(t, "hello", th.Title)
	assert.Equal(t, 2, th.UserMessages)
}

func TestAppendMessage_AssistantFirstStillTitlesOnUser(t *testing.T) {
	openTemp(t)
	newThread(t, "t1", "u1")

	_, err := AppendMessage(models.Message{ID: "a1", ThreadID: "t1", Role: models.RoleAssistant, Status: models.StatusComplete}, AppendOptions{})
	require.NoError(t, err)
	res, err := AppendMessage(userMsg("t1", "m1", "printer"), AppendOptions{TitleIfFirstUser: "printer"})
	require.NoError(t, err)
	assert.True(t, res.Titled)
}

func TestAppendMessage_ConcurrentOrderIsTotal(t *testing.T) {
	openTemp(t)
	newThread(t, "t1", "u1")

	const n = 40
	var wg sync.WaitGroup
	titled := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := AppendMessage(userMsg("t1", fmt.Sprintf("m%02d", i), "x"), AppendOptions{TitleIfFirstUser: fmt.Sprintf("title %d", i)})
			assert.NoError(t, err)
			titled <- res.Titled
		}(i)
	}
	wg.Wait()
	close(titled)

	count := 0
	for ok := range titled {
		if ok {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one append may set the title")

	msgs, next, err := ListMessages("t1", 0, 0)
	require.NoError(t, err)
	assert.Zero(t, next)
	require.Len(t, msgs, n)
	seen := map[string]bool{}
	for i, m := range msgs {
		assert.Equal(t, uint64(i+1), m.Seq)
		assert.False(t, seen[m.ID], "duplicate %s", m.ID)
		seen[m.ID] = true
	}
}

func TestListMessages_Pagination(t *testing.T) {
	openTemp(t)
	newThread(t, "t1", "u1")
	for i := 0; i < 5; i++ {
		_, err := AppendMessage(userMsg("t1", fmt.Sprintf("m%d", i), "x"), AppendOptions{})
		require.NoError(t, err)
	}

	page, next, err := ListMessages("t1", 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(2), next)

	page, next, err = ListMessages("t1", next, 10)
	require.NoError(t, err)
	assert.Len(t, page, 3)
	assert.Zero(t, next)
}

func TestUpdateMessage_FinishMovesIndexes(t *testing.T) {
	openTemp(t)
	newThread(t, "t1", "u1")
	a := models.Message{ID: "a1", ThreadID: "t1", Role: models.RoleAssistant, PromptID: "m1", Model: "gpt-a", Status: models.StatusStreaming}
	_, err := AppendMessage(a, AppendOptions{})
	require.NoError(t, err)

	streaming, err := ListStreaming(0)
	require.NoError(t, err)
	require.Len(t, streaming, 1)

	got, err := GetMessage("a1")
	require.NoError(t, err)
	got.Status = models.StatusComplete
	got.Text = "done"
	require.NoError(t, UpdateMessage(got))

	streaming, err = ListStreaming(0)
	require.NoError(t, err)
	assert.Empty(t, streaming)

	finished, err := ListFinishedBefore(time.Now().Add(time.Second), 0)
	require.NoError(t, err)
	require.Len(t, finished, 1)
	assert.Equal(t, "m1", finished[0].StreamID)

	model, err := LastAssistantModel("t1")
	require.NoError(t, err)
	assert.Equal(t, "gpt-a", model)
}

func TestDeltas_PositionsAreDense(t *testing.T) {
	openTemp(t)
	newThread(t, "t1", "u1")
	for i := 0; i < 3; i++ {
		d, err := AppendDelta(models.Delta{ThreadID: "t1", MessageID: "m1", Kind: models.DeltaText, Text: "x"})
		require.NoError(t, err)
		assert.Equal(t, uint64(i), d.Pos)
	}
	ds, err := ListDeltas("t1", "m1", 1, 0)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, uint64(1), ds[0].Pos)

	n, err := DropDeltas(FinishedStream{Key: "finished:x", ThreadID: "t1", StreamID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDeltas_RefusedAfterTerminalStatus(t *testing.T) {
	openTemp(t)
	newThread(t, "t1", "u1")
	_, err := AppendDelta(models.Delta{ThreadID: "t1", MessageID: "m1", Kind: models.DeltaStatus, Status: models.StatusError})
	require.NoError(t, err)

	_, err = AppendDelta(models.Delta{ThreadID: "t1", MessageID: "m1", Kind: models.DeltaStatus, Status: models.StatusComplete})
	assert.ErrorIs(t, err, ErrStreamClosed)
	_, err = AppendDelta(models.Delta{ThreadID: "t1", MessageID: "m1", Kind: models.DeltaText, Text: "x"})
	assert.ErrorIs(t, err, ErrStreamClosed)

	ds, err := ListDeltas("t1", "m1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, ds, 1)
}

func TestDeltas_RefusedOnceThreadIsDeleting(t *testing.T) {
	openTemp(t)
	newThread(t, "t1", "u1")
	_, err := AppendDelta(models.Delta{ThreadID: "t1", MessageID: "m1", Kind: models.DeltaText, Text: "x"})
	require.NoError(t, err)

	_, err = MarkThreadDeleting("t1")
	require.NoError(t, err)
	_, err = AppendDelta(models.Delta{ThreadID: "t1", MessageID: "m1", Kind: models.DeltaText, Text: "y"})
	assert.ErrorIs(t, err, ErrNotFound)

	for {
		done, _, err := PurgeThreadBatch("t1", 10)
		require.NoError(t, err)
		if done {
			break
		}
	}
	require.NoError(t, DeleteThreadMeta("t1"))
	_, err = AppendDelta(models.Delta{ThreadID: "t1", MessageID: "m1", Kind: models.DeltaStatus, Status: models.StatusComplete})
	assert.ErrorIs(t, err, ErrNotFound)

	left := 0
	require.NoError(t, scanPrefix([]byte(threadPrefix("t1")), func(_, _ []byte) (bool, error) {
		left++
		return true, nil
	}))
	assert.Zero(t, left)
}

func TestUpdateStreamingMessage_FirstFinishWins(t *testing.T) {
	openTemp(t)
	newThread(t, "t1", "u1")
	res, err := AppendMessage(models.Message{ID: "a1", ThreadID: "t1", Role: models.RoleAssistant, PromptID: "p1", Status: models.StatusStreaming}, AppendOptions{})
	require.NoError(t, err)
	msg := res.Message

	msg.Text = "partial"
	require.NoError(t, UpdateStreamingMessage(msg))

	failed := msg
	failed.Status, failed.Error = models.StatusError, "generation did not finish"
	require.NoError(t, UpdateStreamingMessage(failed))

	done := msg
	done.Status = models.StatusComplete
	assert.ErrorIs(t, UpdateStreamingMessage(done), ErrMessageFinished)

	got, err := GetMessage("a1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, got.Status)

	_, err = MarkThreadDeleting("t1")
	require.NoError(t, err)
	res, err = AppendMessage(models.Message{ID: "a2", ThreadID: "t1", Role: models.RoleAssistant, Status: models.StatusStreaming}, AppendOptions{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPurgeThread_Batches(t *testing.T) {
	openTemp(t)
	newThread(t, "t1", "u1")
	for i := 0; i < 7; i++ {
		_, err := AppendMessage(userMsg("t1", fmt.Sprintf("m%d", i), "x"), AppendOptions{})
		require.NoError(t, err)
	}

	_, err := MarkThreadDeleting("t1")
	require.NoError(t, err)
	_, err = GetThread("t1")
	assert.ErrorIs(t, err, ErrNotFound)

	rounds := 0
	for {
		done, _, err := PurgeThreadBatch("t1", 3)
		require.NoError(t, err)
		rounds++
		if done {
			break
		}
	}
	assert.Equal(t, 3, rounds)
	require.NoError(t, DeleteThreadMeta("t1"))

	_, err = GetMessage("m0")
	assert.ErrorIs(t, err, ErrNotFound)
	threads, err := ListThreadsByOwner("u1", 0)
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestUpsertUser_ConcurrentSingleRecord(t *testing.T) {
	openTemp(t)
	var wg sync.WaitGroup
	ids := make(chan string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := UpsertUserByExternalID("sub-1", func(existing *models.User) (models.User, bool) {
				if existing != nil {
					return *existing, false
				}
				return models.User{ID: fmt.Sprintf("u%d", i), ExternalID: "sub-1", Name: "Ada"}, true
			})
			assert.NoError(t, err)
			ids <- u.ID
		}(i)
	}
	wg.Wait()
	close(ids)
	first := ""
	for id := range ids {
		if first == "" {
			first = id
		}
		assert.Equal(t, first, id)
	}
	users, err := ListUsers(nil, 0)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestConfigAndEntities(t *testing.T) {
	openTemp(t)
	_, err := SetConfig("openrouter_models", json.RawMessage(`["gpt-a","gpt-b"]`), "admin")
	require.NoError(t, err)
	e, err := GetConfig("openrouter_models")
	require.NoError(t, err)
	assert.JSONEq(t, `["gpt-a","gpt-b"]`, string(e.Value))
	assert.Equal(t, "admin", e.UpdatedBy)

	_, err = SetConfig("broken", json.RawMessage(`{`), "admin")
	assert.Error(t, err)

	require.NoError(t, PutTeam(models.Team{ID: "team1", Name: "Ops"}))
	require.NoError(t, AddTeamMember("team1", "u1"))
	ok, err := IsTeamMember("team1", "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = IsTeamMember("team1", "u2")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, PutNote(models.Note{ID: "n1", EntityTable: "machines", EntityID: "mac1", Content: "fan noise"}))
	notes, err := ListNotes("machines", "mac1")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "fan noise", notes[0].Content)
}
