package models

import (
	"encoding/json"
	"fmt"
)

// Role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageStatus tracks generation progress of an assistant message. User
// messages are written complete.
type MessageStatus string

const (
	StatusStreaming MessageStatus = "streaming"
	StatusComplete  MessageStatus = "complete"
	StatusError     MessageStatus = "error"
)

// Finished reports whether no further deltas will be written.
func (s MessageStatus) Finished() bool {
	return s == StatusComplete || s == StatusError
}

// Message is one persisted turn in a thread.
type Message struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Role     Role   `json:"role"`
	// UserID is the sender for user messages and the thread owner for
	// assistant messages.
	UserID string `json:"user_id"`
	// Model records which model produced an assistant message.
	Model string `json:"model,omitempty"`
	// PromptID links an assistant message to the user message it answers.
	PromptID  string           `json:"prompt_id,omitempty"`
	Text      string           `json:"text"`
	Reasoning string           `json:"reasoning,omitempty"`
	Tools     []ToolInvocation `json:"tools,omitempty"`
	Status    MessageStatus    `json:"status"`
	Error     string           `json:"error,omitempty"`
	// Seq is the message's position in the thread's append order.
	Seq       uint64 `json:"seq"`
	CreatedTS int64  `json:"created_ts"`
	UpdatedTS int64  `json:"updated_ts,omitempty"`
}

// ToolState is the lifecycle of one tool call inside an assistant message.
type ToolState string

const (
	ToolInputStreaming ToolState = "input-streaming"
	ToolInputAvailable ToolState = "input-available"
	ToolOutputReady    ToolState = "output-available"
	ToolError          ToolState = "error"
)

func (s ToolState) rank() int {
	switch s {
	case ToolInputStreaming:
		return 1
	case ToolInputAvailable:
		return 2
	case ToolOutputReady, ToolError:
		return 3
	}
	return 0
}

// CanAdvance reports whether moving from s to next keeps the transition
// monotonic. Terminal states never change.
func (s ToolState) CanAdvance(next ToolState) bool {
	if next.rank() == 0 {
		return false
	}
	if s == "" {
		return true
	}
	return next.rank() > s.rank()
}

// ToolInvocation is a tool call recorded on an assistant message.
type ToolInvocation struct {
	CallID string          `json:"call_id"`
	Tool   string          `json:"tool"`
	State  ToolState       `json:"state"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Advance moves the invocation to next, rejecting regressions.
func (ti *ToolInvocation) Advance(next ToolState) error {
	if !ti.State.CanAdvance(next) {
		return fmt.Errorf("tool %s: illegal state transition %s -> %s", ti.Tool, ti.State, next)
	}
	ti.State = next
	return nil
}
