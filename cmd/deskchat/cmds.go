package main

import (
	"context"
	"encoding/json"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"assetdesk/pkg/chat"
	"assetdesk/pkg/client"
	"assetdesk/pkg/models"
)

// api is the slice of the SDK the UI drives.
type api interface {
	Models(ctx context.Context) ([]string, error)
	ListThreads(ctx context.Context) ([]models.Thread, error)
	AllMessages(ctx context.Context, threadID string) ([]models.Message, error)
	Messages(ctx context.Context, threadID string, q client.MessagesQuery) (client.MessagePage, error)
	LastModel(ctx context.Context, threadID string) (string, error)
	Send(ctx context.Context, req chat.SendRequest) (chat.SendResult, error)
	DeleteThread(ctx context.Context, threadID string) error
	InvokeTool(ctx context.Context, threadID, tool string, args json.RawMessage, modelID string) (json.RawMessage, error)
}

const requestTimeout = 20 * time.Second

type initDoneMsg struct {
	models  []string
	threads []models.Thread
	err     error
}

type threadsMsg struct {
	threads []models.Thread
	err     error
}

type threadLoadedMsg struct {
	threadID string
	messages []models.Message
	err      error
}

type lastModelMsg struct {
	threadID string
	model    string
	err      error
}

type sendDoneMsg struct {
	res chat.SendResult
	err error
}

type streamMsg struct {
	threadID string
	promptID string
	deltas   []models.Delta
	cursor   uint64
	messages []models.Message
	err      error
}

type actionDoneMsg struct {
	text   string
	err    error
	reload bool
}

type tickMsg time.Time

func tickEvery(interval time.Duration) tea.Cmd {
	if interval <= 0 {
		interval = 400 * time.Millisecond
	}
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) initCmd() tea.Cmd {
	c := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		ids, err := c.Models(ctx)
		if err != nil {
			return initDoneMsg{err: err}
		}
		threads, err := c.ListThreads(ctx)
		return initDoneMsg{models: ids, threads: threads, err: err}
	}
}

func (m model) threadsCmd() tea.Cmd {
	c := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		threads, err := c.ListThreads(ctx)
		return threadsMsg{threads: threads, err: err}
	}
}

func (m model) loadThreadCmd(threadID string) tea.Cmd {
	c := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		msgs, err := c.AllMessages(ctx, threadID)
		return threadLoadedMsg{threadID: threadID, messages: msgs, err: err}
	}
}

func (m model) lastModelCmd(threadID string) tea.Cmd {
	c := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		id, err := c.LastModel(ctx, threadID)
		return lastModelMsg{threadID: threadID, model: id, err: err}
	}
}

func (m model) sendCmd(req chat.SendRequest) tea.Cmd {
	c := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		res, err := c.Send(ctx, req)
		return sendDoneMsg{res: res, err: err}
	}
}

// pollCmd fetches new deltas of the pending answer and any messages
// appended after the last one shown.
func (m model) pollCmd() tea.Cmd {
	if m.pending == nil {
		return nil
	}
	c := m.api
	threadID, promptID := m.pending.threadID, m.pending.promptID
	q := client.MessagesQuery{After: m.pending.lastSeq, Stream: promptID, StreamCursor: m.pending.cursor}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		page, err := c.Messages(ctx, threadID, q)
		out := streamMsg{threadID: threadID, promptID: promptID, err: err, cursor: q.StreamCursor}
		if err != nil {
			return out
		}
		out.deltas = page.Deltas
		out.messages = page.Messages
		if page.StreamCursor != nil {
			out.cursor = *page.StreamCursor
		}
		return out
	}
}

func (m model) deleteCmd(threadID string) tea.Cmd {
	c := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := c.DeleteThread(ctx, threadID); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{text: "thread deleted", reload: true}
	}
}

func (m model) toolCmd(threadID, tool string, args json.RawMessage, modelID string) tea.Cmd {
	c := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		out, err := c.InvokeTool(ctx, threadID, tool, args, modelID)
		if err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{text: tool + " → " + compact(string(out), 400)}
	}
}
