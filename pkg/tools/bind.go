package tools

import (
	"context"
	"encoding/json"

	lctools "github.com/tmc/langchaingo/tools"

	"assetdesk/pkg/apperr"
)

// Bound is a registry tool fixed to one capability. It satisfies the
// langchaingo tools.Tool interface; the generation loop drives tools only
// through Call.
type Bound struct {
	reg  *Registry
	tool *Tool
	cap  Capability
}

var _ lctools.Tool = (*Bound)(nil)

func (b *Bound) Name() string                { return string(b.tool.Name) }
func (b *Bound) Description() string         { return b.tool.Description }
func (b *Bound) Parameters() json.RawMessage { return b.tool.Parameters }

// Call runs the tool with a JSON argument string. Tool failures come back as
// an error result so the model can read them in its tool result slot; use
// ErrorOf to tell them apart from output.
func (b *Bound) Call(ctx context.Context, input string) (string, error) {
	if input == "" {
		input = "{}"
	}
	out, err := b.reg.Call(ctx, b.cap, string(b.tool.Name), json.RawMessage(input))
	if err != nil {
		return ErrorResult(err), nil
	}
	return string(out), nil
}

// Bind returns every tool bound to c, sorted by name.
func (r *Registry) Bind(c Capability) []*Bound {
	list := r.List()
	out := make([]*Bound, 0, len(list))
	for _, t := range list {
		out = append(out, &Bound{reg: r, tool: t, cap: c})
	}
	return out
}

type errorResult struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	IsError bool   `json:"is_error"`
}

// ErrorResult renders err as the JSON a model sees in place of a result.
func ErrorResult(err error) string {
	b, _ := json.Marshal(errorResult{Error: apperr.Public(err), Field: apperr.FieldOf(err), IsError: true})
	return string(b)
}

// ErrorOf reports whether result was produced by ErrorResult and returns
// its message.
func ErrorOf(result string) (string, bool) {
	if len(result) == 0 || result[0] != '{' {
		return "", false
	}
	var e errorResult
	if json.Unmarshal([]byte(result), &e) != nil || !e.IsError {
		return "", false
	}
	return e.Error, true
}
