package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetdesk/pkg/chat"
	"assetdesk/pkg/client"
	"assetdesk/pkg/models"
)

type fakeAPI struct {
	models   []string
	threads  []models.Thread
	messages map[string][]models.Message
	last     map[string]string
	page     client.MessagePage
	sent     []chat.SendRequest
	sendRes  chat.SendResult
	deleted  []string
	invoked  []string
}

func (f *fakeAPI) Models(context.Context) ([]string, error) { return f.models, nil }
func (f *fakeAPI) ListThreads(context.Context) ([]models.Thread, error) {
	return f.threads, nil
}
func (f *fakeAPI) AllMessages(_ context.Context, id string) ([]models.Message, error) {
	return f.messages[id], nil
}
func (f *fakeAPI) Messages(context.Context, string, client.MessagesQuery) (client.MessagePage, error) {
	return f.page, nil
}
func (f *fakeAPI) LastModel(_ context.Context, id string) (string, error) { return f.last[id], nil }
func (f *fakeAPI) Send(_ context.Context, req chat.SendRequest) (chat.SendResult, error) {
	f.sent = append(f.sent, req)
	return f.sendRes, nil
}
func (f *fakeAPI) DeleteThread(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}
func (f *fakeAPI) InvokeTool(_ context.Context, _, tool string, _ json.RawMessage, _ string) (json.RawMessage, error) {
	f.invoked = append(f.invoked, tool)
	return json.RawMessage(`{"ok":true}`), nil
}

func newTestModel(f *fakeAPI) model {
	m := newModel(appConfig{poll: time.Millisecond}, f)
	m.width, m.height = 120, 40
	m.resize()
	return m
}

func step(t *testing.T, m model, msg tea.Msg) model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(model)
}

// run executes cmd and returns its message.
func run(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	require.NotNil(t, cmd)
	return cmd()
}

func TestDraftResolvesFirstModelAndSendPromotes(t *testing.T) {
	f := &fakeAPI{
		models:  []string{"gpt-a", "gpt-b"},
		sendRes: chat.SendResult{ThreadID: "t1", MessageID: "p1", Created: true, Title: "Printer jam"},
	}
	m := newTestModel(f)
	m = step(t, m, run(t, m.initCmd()))
	require.True(t, m.ready)

	got, ok := m.sel.Model("")
	require.True(t, ok)
	assert.Equal(t, "gpt-a", got)

	cmd := m.send("Printer jam")
	msg := run(t, cmd)
	require.Len(t, f.sent, 1)
	assert.Equal(t, chat.SendRequest{Prompt: "Printer jam", ModelID: "gpt-a"}, f.sent[0])

	m = step(t, m, msg)
	assert.Equal(t, "t1", m.threadID)
	require.NotNil(t, m.pending)
	assert.Equal(t, "p1", m.pending.promptID)
	promoted, ok := m.sel.Model("t1")
	require.True(t, ok)
	assert.Equal(t, "gpt-a", promoted)
	_, draft := m.sel.Model("")
	assert.False(t, draft)
}

func TestOpenThreadUsesLastModel(t *testing.T) {
	f := &fakeAPI{
		models: []string{"gpt-a", "gpt-b"},
		last:   map[string]string{"t1": "gpt-b", "t2": "retired"},
	}
	m := newTestModel(f)
	m = step(t, m, run(t, m.initCmd()))

	m.open("t1")
	_, ok := m.sel.Model("t1")
	assert.False(t, ok, "waits for the last-used model")
	m = step(t, m, run(t, m.lastModelCmd("t1")))
	got, _ := m.sel.Model("t1")
	assert.Equal(t, "gpt-b", got)

	m.open("t2")
	m = step(t, m, run(t, m.lastModelCmd("t2")))
	got, _ = m.sel.Model("t2")
	assert.Equal(t, "gpt-a", got)
}

func TestStreamDeltasUntilFinished(t *testing.T) {
	f := &fakeAPI{models: []string{"gpt-a"}}
	m := newTestModel(f)
	m = step(t, m, run(t, m.initCmd()))
	m.threadID = "t1"
	m.pending = &pendingStream{threadID: "t1", promptID: "p1", status: models.StatusStreaming}

	m = step(t, m, streamMsg{threadID: "t1", promptID: "p1", cursor: 2, deltas: []models.Delta{
		{MessageID: "p1", Pos: 0, Kind: models.DeltaText, Text: "Restart "},
		{MessageID: "p1", Pos: 1, Kind: models.DeltaTool, Tool: &models.ToolInvocation{CallID: "c1", Tool: "getMyMachines", State: models.ToolInputAvailable}},
	}})
	require.NotNil(t, m.pending)
	assert.EqualValues(t, 2, m.pending.cursor)
	assert.Contains(t, m.timelineContent(), "Restart")

	m = step(t, m, streamMsg{threadID: "t1", promptID: "p1", cursor: 4, deltas: []models.Delta{
		{MessageID: "p1", Pos: 2, Kind: models.DeltaTool, Tool: &models.ToolInvocation{CallID: "c1", Tool: "getMyMachines", State: models.ToolOutputReady}},
		{MessageID: "p1", Pos: 3, Kind: models.DeltaStatus, Status: models.StatusComplete},
	}})
	assert.Nil(t, m.pending)
	assert.Equal(t, "ready", m.statusLine)
}

func TestStaleStreamMessageIgnored(t *testing.T) {
	m := newTestModel(&fakeAPI{})
	m.pending = &pendingStream{threadID: "t1", promptID: "p2", status: models.StatusStreaming}
	m = step(t, m, streamMsg{threadID: "t1", promptID: "p1", deltas: []models.Delta{{Kind: models.DeltaText, Text: "old"}}})
	assert.Empty(t, m.pending.text.String())
}

func TestOpenResumesStreamingAnswer(t *testing.T) {
	f := &fakeAPI{messages: map[string][]models.Message{"t1": {
		{ID: "p1", ThreadID: "t1", Role: models.RoleUser, Text: "hi", Seq: 1},
		{ID: "a1", ThreadID: "t1", Role: models.RoleAssistant, PromptID: "p1", Status: models.StatusStreaming, Seq: 2},
	}}}
	m := newTestModel(f)
	m.open("t1")
	m = step(t, m, run(t, m.loadThreadCmd("t1")))
	require.NotNil(t, m.pending)
	assert.Equal(t, "p1", m.pending.promptID)
	assert.EqualValues(t, 2, m.pending.lastSeq)
}

func TestSendBlockedWhileGenerating(t *testing.T) {
	f := &fakeAPI{models: []string{"gpt-a"}}
	m := newTestModel(f)
	m = step(t, m, run(t, m.initCmd()))
	m.pending = &pendingStream{promptID: "p1"}
	assert.Nil(t, m.send("again"))
	assert.Empty(t, f.sent)
}

func TestSwitchingBlockedWhileSendInFlight(t *testing.T) {
	f := &fakeAPI{
		models:  []string{"gpt-a"},
		threads: []models.Thread{{ID: "t1", Title: "Laptop"}, {ID: "t2", Title: "VPN"}},
		sendRes: chat.SendResult{ThreadID: "t9", MessageID: "p1", Created: true},
	}
	m := newTestModel(f)
	m = step(t, m, run(t, m.initCmd()))

	done := run(t, m.send("my monitor flickers"))
	require.True(t, m.inflight)
	for _, line := range []string{"/open 2", "/new", "/delete"} {
		assert.Nil(t, m.command(line), line)
		assert.Equal(t, "wait for the send to finish", m.statusLine)
		assert.Empty(t, m.threadID, line)
	}
	assert.Empty(t, f.deleted)

	m = step(t, m, done)
	assert.Equal(t, "t9", m.threadID)
	got, ok := m.sel.Model("t9")
	require.True(t, ok)
	assert.Equal(t, "gpt-a", got)
}

func TestCommands(t *testing.T) {
	f := &fakeAPI{
		models:  []string{"gpt-a", "gpt-b"},
		threads: []models.Thread{{ID: "t1", Title: "Laptop"}, {ID: "t2", Title: "VPN"}},
		last:    map[string]string{},
	}
	m := newTestModel(f)
	m = step(t, m, run(t, m.initCmd()))

	m.command("/open 2")
	assert.Equal(t, "t2", m.threadID)

	m.command("/model gpt-b")
	got, _ := m.sel.Model("t2")
	assert.Equal(t, "gpt-b", got)
	m.command("/model nope")
	assert.Equal(t, "unknown model nope", m.statusLine)

	m = step(t, m, run(t, m.command(`/tool getCurrentDateTime {}`)))
	assert.Equal(t, []string{"getCurrentDateTime"}, f.invoked)
	assert.Contains(t, m.statusLine, `{"ok":true}`)

	m.command("/tool listX {bad")
	assert.Equal(t, "tool arguments must be a JSON object", m.statusLine)

	msg := run(t, m.command("/delete"))
	assert.Equal(t, []string{"t2"}, f.deleted)
	assert.Empty(t, m.threadID)
	m = step(t, m, msg)
	assert.Equal(t, "thread deleted", m.statusLine)
}

func TestViewRenders(t *testing.T) {
	f := &fakeAPI{models: []string{"gpt-a"}, threads: []models.Thread{{ID: "t1", Title: "Laptop"}}}
	m := newTestModel(f)
	m = step(t, m, run(t, m.initCmd()))
	m = step(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	out := m.View()
	assert.Contains(t, out, "assetdesk")
	assert.Contains(t, out, "gpt-a")
	assert.Contains(t, out, "Laptop")
}
