package llm

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Turn is one canned model reply.
type Turn struct {
	Reasoning string
	// Chunks are streamed as text in order.
	Chunks    []string
	ToolCalls []ToolCall
	Err       error
}

// Scripted is a Model that replays canned turns. It records every request
// it receives.
type Scripted struct {
	mu       sync.Mutex
	turns    []Turn
	Requests []Request
}

func NewScripted(turns ...Turn) *Scripted {
	return &Scripted{turns: turns}
}

func (s *Scripted) Complete(ctx context.Context, req Request, h StreamHandler) (Completion, error) {
	s.mu.Lock()
	s.Requests = append(s.Requests, req)
	if len(s.turns) == 0 {
		s.mu.Unlock()
		return Completion{}, errors.New("scripted model has no turns left")
	}
	t := s.turns[0]
	s.turns = s.turns[1:]
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}
	if err := h.reasoning(t.Reasoning); err != nil {
		return Completion{}, err
	}
	var out Completion
	out.Reasoning = t.Reasoning
	for _, c := range t.Chunks {
		if err := h.text(c); err != nil {
			return out, err
		}
		out.Text += c
	}
	if t.Err != nil {
		return out, t.Err
	}
	for i, tc := range t.ToolCalls {
		if err := h.toolCall(i, tc.ID, tc.Function.Name); err != nil {
			return out, err
		}
	}
	out.ToolCalls = t.ToolCalls
	out.FinishReason = "stop"
	if len(t.ToolCalls) > 0 {
		out.FinishReason = "tool_calls"
	}
	return out, nil
}

// Calls returns how many requests the model received.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}
