// Package chat runs the conversation pipeline: a send persists the prompt
// and schedules one background generation; dispatch runs a single tool
// directly inside a thread.
package chat

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"assetdesk/pkg/apperr"
	"assetdesk/pkg/config"
	"assetdesk/pkg/ingest"
	"assetdesk/pkg/ingest/queue"
	"assetdesk/pkg/llm"
	"assetdesk/pkg/logger"
	"assetdesk/pkg/metrics"
	"assetdesk/pkg/models"
	"assetdesk/pkg/store"
	"assetdesk/pkg/stream"
	"assetdesk/pkg/telemetry"
	"assetdesk/pkg/threads"
	"assetdesk/pkg/tools"
	"assetdesk/pkg/users"
	"assetdesk/pkg/utils"
)

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Users   *users.Resolver
	Threads *threads.Service
	Tools   *tools.Registry
	Model   llm.Model
	Queue   *queue.Queue
	Streams *stream.Log
}

// Pipeline accepts prompts and produces assistant messages.
type Pipeline struct {
	Deps
	maxSteps     int
	temperature  float64
	systemPrompt string
	now          func() time.Time
}

func New(d Deps, mc config.ModelsConfig, cc config.ChatConfig) *Pipeline {
	p := &Pipeline{
		Deps:         d,
		maxSteps:     mc.MaxSteps,
		temperature:  mc.Temperature,
		systemPrompt: strings.TrimSpace(cc.SystemPrompt),
		now:          time.Now,
	}
	if p.maxSteps <= 0 {
		p.maxSteps = 5
	}
	if p.systemPrompt == "" {
		p.systemPrompt = config.DefaultSystemPrompt
	}
	return p
}

// Register binds the generation handler and the shutdown drop hook.
func (p *Pipeline) Register(proc *ingest.Processor) {
	proc.RegisterHandler(queue.HandlerGenerate, p.handleGenerate)
	proc.OnDropped(p.dropped)
}

// SendRequest is the body of a send. ThreadID is empty for a new thread.
type SendRequest struct {
	Prompt   string `json:"prompt"`
	ThreadID string `json:"threadId,omitempty"`
	ModelID  string `json:"modelId"`
}

type SendResult struct {
	ThreadID  string `json:"threadId"`
	MessageID string `json:"messageId"`
	Created   bool   `json:"created"`
	Title     string `json:"title,omitempty"`
}

// task is the queued payload of one generation.
type task struct {
	ThreadID  string `json:"threadId"`
	PromptID  string `json:"promptId"`
	ModelID   string `json:"modelId"`
	RequestID string `json:"requestId,omitempty"`
}

// Send persists the prompt and schedules its generation. It returns once the
// prompt is durable and the task accepted; generation runs later.
func (p *Pipeline) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	var res SendResult
	user, err := p.Users.Ensure(ctx)
	if err != nil {
		return res, err
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return res, apperr.Invalid("prompt", "prompt must not be empty")
	}
	if strings.TrimSpace(req.ModelID) == "" {
		return res, apperr.Invalid("modelId", "modelId is required")
	}
	modelID, err := llm.ResolveModel(req.ModelID)
	if err != nil {
		return res, err
	}

	threadID := req.ThreadID
	if threadID == "" {
		th, err := p.Threads.Create(user.ID, "")
		if err != nil {
			return res, err
		}
		threadID = th.ID
		res.Created = true
	} else if _, err := threads.Authorize(threadID, user.ID, true); err != nil {
		return res, err
	}
	res.ThreadID = threadID

	appended, err := store.AppendMessage(models.Message{
		ID:       utils.NewMessageID(),
		ThreadID: threadID,
		Role:     models.RoleUser,
		UserID:   user.ID,
		Text:     prompt,
		Status:   models.StatusComplete,
	}, store.AppendOptions{TitleIfFirstUser: p.Threads.Title(prompt)})
	if err != nil {
		return res, errors.Wrap(err, "persist prompt")
	}
	msg := appended.Message
	res.MessageID = msg.ID
	if appended.Titled {
		res.Title = p.Threads.Title(prompt)
	}

	reqID := telemetry.RequestID(ctx)
	payload, err := json.Marshal(task{ThreadID: threadID, PromptID: msg.ID, ModelID: modelID, RequestID: reqID})
	if err != nil {
		return res, errors.Wrap(err, "encode generation task")
	}
	if err := p.Queue.EnqueueOp(queue.HandlerGenerate, threadID, msg.ID, payload, map[string]string{"request_id": reqID}); err != nil {
		result := "full"
		if errors.Is(err, queue.ErrQueueClosed) {
			result = "closed"
		}
		metrics.QueueEnqueue.WithLabelValues(result).Inc()
		p.failPrompt(msg, "generation could not be scheduled")
		logger.Warn("generation_not_scheduled", "thread", threadID, "prompt", msg.ID, "error", err)
		return res, apperr.Unavailable(err, "generation queue is busy, try again")
	}
	metrics.QueueEnqueue.WithLabelValues("ok").Inc()
	logger.Info("prompt_accepted", "thread", threadID, "prompt", msg.ID, "model", modelID, "new_thread", res.Created)
	return res, nil
}

// failPrompt marks a prompt that will never be answered.
func (p *Pipeline) failPrompt(msg models.Message, reason string) {
	msg.Status = models.StatusError
	msg.Error = reason
	if err := store.UpdateMessage(msg); err != nil {
		logger.Error("prompt_mark_failed", "prompt", msg.ID, "error", err)
	}
}

// dropped handles generation tasks discarded at shutdown.
func (p *Pipeline) dropped(op queue.Op) {
	if op.Handler != queue.HandlerGenerate {
		return
	}
	msg, err := store.GetMessage(op.ID)
	if err != nil {
		logger.Warn("dropped_prompt_missing", "prompt", op.ID, "error", err)
		return
	}
	p.failPrompt(msg, "generation was dropped during shutdown")
	metrics.Generations.WithLabelValues("dropped").Inc()
}

// LastModel returns the model of the thread's latest assistant message, or
// "" when no assistant message has been written.
func (p *Pipeline) LastModel(ctx context.Context, threadID string) (string, error) {
	user, err := p.Users.Current(ctx)
	if err != nil {
		return "", err
	}
	if _, err := threads.Authorize(threadID, user.ID, false); err != nil {
		return "", err
	}
	return store.LastAssistantModel(threadID)
}
