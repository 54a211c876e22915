package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetdesk/pkg/config"
	"assetdesk/pkg/models"
	"assetdesk/pkg/store"
	"assetdesk/pkg/stream"
	"assetdesk/pkg/threads"
	"assetdesk/pkg/utils"
)

type seeded struct {
	thread   models.Thread
	promptID string
	answerID string
}

func seed(t *testing.T, svc *threads.Service, status models.MessageStatus) seeded {
	t.Helper()
	th, err := svc.Create("owner-1", "")
	require.NoError(t, err)
	prompt, err := store.AppendMessage(models.Message{
		ID: utils.NewMessageID(), ThreadID: th.ID, Role: models.RoleUser, UserID: "owner-1",
		Text: "hello", Status: models.StatusComplete,
	}, store.AppendOptions{})
	require.NoError(t, err)
	answer, err := store.AppendMessage(models.Message{
		ID: utils.NewMessageID(), ThreadID: th.ID, Role: models.RoleAssistant, UserID: "owner-1",
		Model: "gpt-a", PromptID: prompt.Message.ID, Tools: []models.ToolInvocation{{CallID: "c1", Tool: "getMyAssets", State: models.ToolInputAvailable}},
		Status: models.StatusStreaming,
	}, store.AppendOptions{})
	require.NoError(t, err)
	if status != models.StatusStreaming {
		msg := answer.Message
		msg.Status = status
		msg.Tools = nil
		require.NoError(t, store.UpdateMessage(msg))
	}
	return seeded{thread: th, promptID: prompt.Message.ID, answerID: answer.Message.ID}
}

func newSweeper(t *testing.T, cfg config.RetentionConfig, offset time.Duration) (*Sweeper, *stream.Log, *threads.Service) {
	t.Helper()
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })
	logs := stream.New()
	svc := threads.NewService(logs, config.ChatConfig{})
	s := New(cfg, logs, svc)
	s.now = func() time.Time { return time.Now().Add(offset) }
	return s, logs, svc
}

func TestRunOnce_FailsStaleGenerations(t *testing.T) {
	s, logs, svc := newSweeper(t, config.RetentionConfig{StaleAfter: config.Duration(15 * time.Minute)}, time.Hour)
	stuck := seed(t, svc, models.StatusStreaming)

	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Stale)

	msg, err := store.GetMessage(stuck.answerID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, msg.Status)
	require.Len(t, msg.Tools, 1)
	assert.Equal(t, models.ToolError, msg.Tools[0].State)

	ds, _, err := logs.Read(stuck.thread.ID, stuck.promptID, 0, 0)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, models.StatusError, ds[0].Status)

	pending, err := store.ListStreaming(0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunOnce_StaleFailureIsFinal(t *testing.T) {
	s, logs, svc := newSweeper(t, config.RetentionConfig{StaleAfter: config.Duration(15 * time.Minute)}, time.Hour)
	stuck := seed(t, svc, models.StatusStreaming)

	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Stale)

	// a generation that outlived the cutoff tries to finish afterwards
	late, err := store.GetMessage(stuck.answerID)
	require.NoError(t, err)
	late.Status = models.StatusComplete
	late.Error = ""
	assert.ErrorIs(t, store.UpdateStreamingMessage(late), store.ErrMessageFinished)
	assert.ErrorIs(t, logs.Writer(stuck.thread.ID, stuck.promptID).Status(models.StatusComplete), store.ErrStreamClosed)

	msg, err := store.GetMessage(stuck.answerID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, msg.Status)
	ds, _, err := logs.Read(stuck.thread.ID, stuck.promptID, 0, 0)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, models.StatusError, ds[0].Status)

	again, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Stale)
}

func TestRunOnce_LeavesFreshGenerations(t *testing.T) {
	s, _, svc := newSweeper(t, config.RetentionConfig{StaleAfter: config.Duration(15 * time.Minute)}, 0)
	live := seed(t, svc, models.StatusStreaming)

	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Stale)
	msg, err := store.GetMessage(live.answerID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStreaming, msg.Status)
}

func TestRunOnce_CompactsFinishedDeltas(t *testing.T) {
	s, logs, svc := newSweeper(t, config.RetentionConfig{DeltaTTL: config.Duration(24 * time.Hour)}, 48*time.Hour)
	done := seed(t, svc, models.StatusStreaming)
	w := logs.Writer(done.thread.ID, done.promptID)
	require.NoError(t, w.Text("hi"))
	require.NoError(t, w.Status(models.StatusComplete))
	msg, err := store.GetMessage(done.answerID)
	require.NoError(t, err)
	msg.Status = models.StatusComplete
	msg.Tools = nil
	require.NoError(t, store.UpdateMessage(msg))

	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Compacted)
	assert.Equal(t, 2, rep.Deltas)

	ds, _, err := logs.Read(done.thread.ID, done.promptID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, ds)

	// the message itself is untouched
	msg, err = store.GetMessage(done.answerID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, msg.Status)
}

func TestRunOnce_DryRunChangesNothing(t *testing.T) {
	s, _, svc := newSweeper(t, config.RetentionConfig{
		StaleAfter: config.Duration(time.Minute), DeltaTTL: config.Duration(time.Minute), DryRun: true,
	}, time.Hour)
	stuck := seed(t, svc, models.StatusStreaming)
	seed(t, svc, models.StatusComplete)

	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Stale)
	assert.Equal(t, 1, rep.Compacted)

	msg, err := store.GetMessage(stuck.answerID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStreaming, msg.Status)
}

func TestRunOnce_ResumesPurges(t *testing.T) {
	s, _, svc := newSweeper(t, config.RetentionConfig{}, 0)
	gone := seed(t, svc, models.StatusComplete)
	_, err := store.MarkThreadDeleting(gone.thread.ID)
	require.NoError(t, err)

	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Purged)
	_, err = store.GetThread(gone.thread.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStart_RejectsBadCron(t *testing.T) {
	s := New(config.RetentionConfig{Enabled: true, Cron: "not a cron"}, nil, nil)
	assert.Error(t, s.Start(context.Background()))

	off := New(config.RetentionConfig{}, nil, nil)
	assert.NoError(t, off.Start(context.Background()))
}
