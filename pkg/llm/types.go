// Package llm talks to chat-completion backends and resolves which model a
// generation runs on.
package llm

import (
	"context"
	"encoding/json"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one chat-completion message in OpenAI wire shape.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec advertises a callable tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolSpec
	Temperature float64
	// Private asks the provider not to retain or train on the exchange.
	Private bool
}

// Completion is one finished model turn.
type Completion struct {
	Text         string
	Reasoning    string
	ToolCalls    []ToolCall
	FinishReason string
}

// StreamHandler receives output while a turn is in flight. Nil funcs are
// skipped. A handler error aborts the turn.
type StreamHandler struct {
	Text      func(chunk string) error
	Reasoning func(chunk string) error
	// ToolCall fires once per call, when its name is first known.
	ToolCall func(index int, id, name string) error
}

func (h StreamHandler) text(s string) error {
	if h.Text == nil || s == "" {
		return nil
	}
	return h.Text(s)
}

func (h StreamHandler) reasoning(s string) error {
	if h.Reasoning == nil || s == "" {
		return nil
	}
	return h.Reasoning(s)
}

func (h StreamHandler) toolCall(i int, id, name string) error {
	if h.ToolCall == nil {
		return nil
	}
	return h.ToolCall(i, id, name)
}

// Model runs one completion turn, streaming through h.
type Model interface {
	Complete(ctx context.Context, req Request, h StreamHandler) (Completion, error)
}
