package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	lctools "github.com/tmc/langchaingo/tools"

	"assetdesk/pkg/apperr"
	"assetdesk/pkg/ingest/queue"
	"assetdesk/pkg/llm"
	"assetdesk/pkg/logger"
	"assetdesk/pkg/metrics"
	"assetdesk/pkg/models"
	"assetdesk/pkg/store"
	"assetdesk/pkg/stream"
	"assetdesk/pkg/threads"
	"assetdesk/pkg/tools"
	"assetdesk/pkg/utils"
)

func (p *Pipeline) handleGenerate(ctx context.Context, op *queue.Op) error {
	var t task
	if err := json.Unmarshal(op.Payload, &t); err != nil {
		return errors.Wrap(err, "decode generation task")
	}
	return p.Generate(ctx, t.ThreadID, t.PromptID, t.ModelID)
}

// Generate answers the prompt promptID in threadID with modelID. It writes
// one assistant message, streams deltas keyed by the prompt id and leaves
// the message complete or error. It is never retried.
func (p *Pipeline) Generate(ctx context.Context, threadID, promptID, modelID string) error {
	started := p.now()
	access, err := threads.Authorize(threadID, "", false)
	if err != nil {
		return errors.Wrap(err, "resolve thread owner")
	}
	if access.Thread.Deleting {
		logger.Info("generation_skipped_deleting", "thread", threadID, "prompt", promptID)
		return nil
	}
	capab := access.Capability
	capab.ModelID = modelID
	capab.Source = tools.SourceModel

	created, err := store.AppendMessage(models.Message{
		ID:       utils.NewMessageID(),
		ThreadID: threadID,
		Role:     models.RoleAssistant,
		UserID:   capab.UserID,
		Model:    modelID,
		PromptID: promptID,
		Status:   models.StatusStreaming,
	}, store.AppendOptions{})
	if errors.Is(err, store.ErrNotFound) {
		logger.Info("generation_skipped_deleting", "thread", threadID, "prompt", promptID)
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "create assistant message")
	}
	run := &generation{
		p:     p,
		msg:   created.Message,
		w:     p.Streams.Writer(threadID, promptID),
		bound: map[string]lctools.Tool{},
	}
	for _, b := range p.Tools.Bind(capab) {
		run.bound[b.Name()] = b
		run.specs = append(run.specs, llm.ToolSpec{Name: b.Name(), Description: b.Description(), Parameters: b.Parameters()})
	}

	err = run.loop(ctx, promptID, modelID)
	metrics.GenerationSeconds.Observe(p.now().Sub(started).Seconds())
	if superseded(err) {
		run.abandon(err)
		return nil
	}
	if err != nil {
		run.fail(err)
		metrics.Generations.WithLabelValues(string(models.StatusError)).Inc()
		return apperr.Generation(err)
	}
	run.msg.Status = models.StatusComplete
	if err := store.UpdateStreamingMessage(run.msg); err != nil {
		if superseded(err) {
			run.abandon(err)
			return nil
		}
		return errors.Wrap(err, "finish assistant message")
	}
	run.status(models.StatusComplete)
	metrics.Generations.WithLabelValues(string(models.StatusComplete)).Inc()
	logger.Info("generation_complete", "thread", threadID, "prompt", promptID, "model", modelID,
		"tools", len(run.msg.Tools), "duration", time.Since(started).String())
	return nil
}

type generation struct {
	p     *Pipeline
	msg   models.Message
	w     *stream.Writer
	specs []llm.ToolSpec
	bound map[string]lctools.Tool
}

// superseded reports errors meaning the message is no longer this
// generation's to write: the sweeper finished it or the thread is gone.
func superseded(err error) bool {
	return errors.Is(err, store.ErrMessageFinished) ||
		errors.Is(err, store.ErrStreamClosed) ||
		errors.Is(err, store.ErrNotFound)
}

func (g *generation) loop(ctx context.Context, promptID, modelID string) error {
	history, err := g.history(promptID)
	if err != nil {
		return err
	}
	req := llm.Request{
		Model:       modelID,
		Messages:    history,
		Tools:       g.specs,
		Temperature: g.p.temperature,
		Private:     llm.PrivacyEnabled(),
	}
	h := llm.StreamHandler{
		Text:      g.w.Text,
		Reasoning: g.w.Reasoning,
		ToolCall: func(_ int, id, name string) error {
			inv := g.invocation(id, name)
			if inv.State != "" {
				return nil
			}
			if err := inv.Advance(models.ToolInputStreaming); err != nil {
				return err
			}
			return g.w.Tool(*inv)
		},
	}

	for step := 0; step < g.p.maxSteps; step++ {
		comp, err := g.p.Model.Complete(ctx, req, h)
		g.msg.Text += comp.Text
		g.msg.Reasoning += comp.Reasoning
		if err != nil {
			return err
		}
		if len(comp.ToolCalls) == 0 {
			return nil
		}
		req.Messages = append(req.Messages, llm.Message{Role: llm.RoleAssistant, Content: comp.Text, ToolCalls: comp.ToolCalls})
		for _, tc := range comp.ToolCalls {
			out, err := g.runTool(ctx, tc)
			if err != nil {
				return err
			}
			req.Messages = append(req.Messages, llm.Message{Role: llm.RoleTool, Content: out, ToolCallID: tc.ID})
		}
		if err := store.UpdateStreamingMessage(g.msg); err != nil {
			return errors.Wrap(err, "checkpoint assistant message")
		}
	}
	logger.Warn("generation_step_limit", "thread", g.msg.ThreadID, "prompt", promptID, "steps", g.p.maxSteps)
	return nil
}

// runTool executes one model tool call. Tool failures become the tool
// result the model reads; only bookkeeping failures abort the turn.
func (g *generation) runTool(ctx context.Context, tc llm.ToolCall) (string, error) {
	inv := g.invocation(tc.ID, tc.Function.Name)
	args := json.RawMessage(tc.Function.Arguments)
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if json.Valid(args) {
		inv.Input = args
	} else {
		inv.Input, _ = json.Marshal(tc.Function.Arguments)
	}
	if err := inv.Advance(models.ToolInputAvailable); err != nil {
		return "", err
	}
	if err := g.w.Tool(*inv); err != nil {
		return "", err
	}

	var result string
	if t, ok := g.bound[tc.Function.Name]; ok {
		out, err := t.Call(ctx, string(args))
		if err != nil {
			result = tools.ErrorResult(err)
		} else {
			result = out
		}
	} else {
		result = tools.ErrorResult(apperr.NotFound("tool unavailable: %s", tc.Function.Name))
	}
	if msg, failed := tools.ErrorOf(result); failed {
		inv.Error = msg
		if err := inv.Advance(models.ToolError); err != nil {
			return "", err
		}
	} else {
		inv.Output = json.RawMessage(result)
		if err := inv.Advance(models.ToolOutputReady); err != nil {
			return "", err
		}
	}
	return result, g.w.Tool(*inv)
}

// invocation returns the recorded call with id, creating it on first sight.
func (g *generation) invocation(id, name string) *models.ToolInvocation {
	for i := range g.msg.Tools {
		if g.msg.Tools[i].CallID == id {
			return &g.msg.Tools[i]
		}
	}
	g.msg.Tools = append(g.msg.Tools, models.ToolInvocation{CallID: id, Tool: name})
	return &g.msg.Tools[len(g.msg.Tools)-1]
}

// history replays the thread up to and including the prompt.
func (g *generation) history(promptID string) ([]llm.Message, error) {
	out := []llm.Message{{Role: llm.RoleSystem, Content: g.p.systemPrompt}}
	var after uint64
	for {
		page, next, err := store.ListMessages(g.msg.ThreadID, after, 200)
		if err != nil {
			return nil, errors.Wrap(err, "load history")
		}
		for _, m := range page {
			switch {
			case m.Role == models.RoleUser && m.Status != models.StatusError:
				out = append(out, llm.Message{Role: llm.RoleUser, Content: m.Text})
			case m.Role == models.RoleAssistant && m.Status == models.StatusComplete && m.Text != "":
				out = append(out, llm.Message{Role: llm.RoleAssistant, Content: m.Text})
			}
			if m.ID == promptID {
				return out, nil
			}
		}
		if next == 0 {
			return nil, errors.Errorf("prompt %s not found in thread %s", promptID, g.msg.ThreadID)
		}
		after = next
	}
}

func (g *generation) fail(cause error) {
	g.msg.Status = models.StatusError
	g.msg.Error = apperr.Public(apperr.Generation(cause))
	var open []int
	for i := range g.msg.Tools {
		if g.msg.Tools[i].State.CanAdvance(models.ToolError) {
			g.msg.Tools[i].Error = "generation ended before the tool finished"
			_ = g.msg.Tools[i].Advance(models.ToolError)
			open = append(open, i)
		}
	}
	if err := store.UpdateStreamingMessage(g.msg); err != nil {
		if superseded(err) {
			g.abandon(err)
			return
		}
		logger.Error("generation_mark_failed", "message", g.msg.ID, "error", err)
	}
	for _, i := range open {
		_ = g.w.Tool(g.msg.Tools[i])
	}
	g.status(models.StatusError)
	logger.Warn("generation_failed", "thread", g.msg.ThreadID, "prompt", g.msg.PromptID, "model", g.msg.Model, "error", cause)
}

// abandon drops the rest of a generation whose message was finished by
// someone else or whose thread was deleted. Nothing more is written.
func (g *generation) abandon(reason error) {
	metrics.Generations.WithLabelValues("abandoned").Inc()
	logger.Warn("generation_abandoned", "thread", g.msg.ThreadID, "prompt", g.msg.PromptID, "message", g.msg.ID, "reason", reason)
}

func (g *generation) status(s models.MessageStatus) {
	if err := g.w.Status(s); err != nil {
		logger.Warn("status_delta_failed", "message", g.msg.ID, "status", string(s), "error", err)
	}
}
