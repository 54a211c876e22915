// Package tools holds the closed set of assistant tools. Handlers act on
// behalf of the user bound in a Capability, never a user named in args.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"

	"assetdesk/pkg/apperr"
	"assetdesk/pkg/logger"
	"assetdesk/pkg/metrics"
	"assetdesk/pkg/validation"
)

type Name string

const (
	GetMyAssets          Name = "getMyAssets"
	SearchMachines       Name = "searchMachines"
	SearchUsers          Name = "searchUsers"
	AddNoteToEntity      Name = "addNoteToEntity"
	GetNotesForEntity    Name = "getNotesForEntity"
	CreateTicket         Name = "createTicket"
	UpdateTicket         Name = "updateTicket"
	GetTicketByID        Name = "getTicketById"
	GetMyAssignedTickets Name = "getMyAssignedTickets"
	GetMyCreatedTickets  Name = "getMyCreatedTickets"
	GetCurrentDateTime   Name = "getCurrentDateTime"
)

// Source labels who invoked a tool.
type Source string

const (
	SourceModel    Source = "model"
	SourceDispatch Source = "dispatch"
)

// Capability is built once per request by the thread authorizer. UserID is
// the thread owner; ModelID is informational.
type Capability struct {
	ThreadID string
	UserID   string
	ModelID  string
	Source   Source
}

// Handler runs a tool with validated arguments and returns a JSON
// serializable result.
type Handler func(ctx context.Context, c Capability, args map[string]interface{}) (interface{}, error)

type Tool struct {
	Name        Name
	Description string
	// Parameters is the JSON schema advertised to the model.
	Parameters json.RawMessage
	Rules      validation.Rules
	// RequiresThread tools need a capability with a thread and its owner.
	RequiresThread bool
	// NeedsModel tools cannot run without a resolved model id.
	NeedsModel bool
	Handler    Handler
}

// Registry maps tool names to tools.
type Registry struct {
	tools map[Name]*Tool
	now   func() time.Time
}

// NewRegistry returns a registry with every tool registered.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[Name]*Tool), now: time.Now}
	r.registerAssets()
	r.registerUsers()
	r.registerNotes()
	r.registerTickets()
	r.registerDateTime()
	return r
}

func (r *Registry) register(t *Tool) {
	if _, dup := r.tools[t.Name]; dup {
		panic("tools: duplicate tool " + string(t.Name))
	}
	r.tools[t.Name] = t
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.tools[Name(name)]
	return t, ok
}

// List returns all tools sorted by name.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call decodes raw arguments, validates them and runs the tool. The result
// is returned as JSON.
func (r *Registry) Call(ctx context.Context, c Capability, name string, raw json.RawMessage) (json.RawMessage, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, apperr.NotFound("tool unavailable: %s", name)
	}
	out, err := r.call(ctx, t, c, raw)
	result := "ok"
	if err != nil {
		result = string(apperr.KindOf(err))
		logger.Warn("tool_call_failed", "tool", name, "thread", c.ThreadID, "source", string(c.Source), "error", err.Error())
	} else {
		logger.Debug("tool_call", "tool", name, "thread", c.ThreadID, "source", string(c.Source))
	}
	metrics.ToolCalls.WithLabelValues(name, string(c.Source), result).Inc()
	return out, err
}

func (r *Registry) call(ctx context.Context, t *Tool, c Capability, raw json.RawMessage) (json.RawMessage, error) {
	if t.RequiresThread && (c.ThreadID == "" || c.UserID == "") {
		return nil, apperr.Misconfigured("tool %s requires a thread context", t.Name)
	}
	if t.NeedsModel && c.ModelID == "" {
		return nil, apperr.Misconfigured("no models configured")
	}
	args, err := decodeArgs(raw)
	if err != nil {
		return nil, err
	}
	if err := t.Rules.Validate(args); err != nil {
		return nil, err
	}
	v, err := t.Handler(ctx, c, args)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s result", t.Name)
	}
	return b, nil
}

func decodeArgs(raw json.RawMessage) (map[string]interface{}, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, apperr.Invalid("", "arguments must be a JSON object")
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}

// argument accessors; validation has already checked types.

func str(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}

func strs(args map[string]interface{}, key string) []string {
	items, _ := args[key].([]interface{})
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func has(args map[string]interface{}, key string) bool {
	_, ok := args[key]
	return ok
}

// isoTime matches the UTC millisecond format clients compare against.
func isoTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
