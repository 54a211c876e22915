package chat

import (
	"context"
	"encoding/json"

	"assetdesk/pkg/apperr"
	"assetdesk/pkg/llm"
	"assetdesk/pkg/threads"
	"assetdesk/pkg/tools"
)

// InvokeRequest names a tool to run directly in a thread.
type InvokeRequest struct {
	ThreadID string
	Tool     string
	Args     json.RawMessage
	// ModelID is optional context metadata.
	ModelID string
}

// Invoke runs one tool on behalf of the thread owner and returns its JSON
// result verbatim. Only the owner may dispatch.
func (p *Pipeline) Invoke(ctx context.Context, req InvokeRequest) (json.RawMessage, error) {
	user, err := p.Users.Ensure(ctx)
	if err != nil {
		return nil, err
	}
	access, err := threads.Authorize(req.ThreadID, user.ID, true)
	if err != nil {
		return nil, err
	}
	tool, ok := p.Tools.Lookup(req.Tool)
	if !ok {
		return nil, apperr.NotFound("tool unavailable: %s", req.Tool)
	}

	modelID, err := llm.ResolveModel(req.ModelID)
	if err != nil {
		// with no explicit model, tools that do not need one still run
		if req.ModelID != "" || tool.NeedsModel || !apperr.Is(err, apperr.KindConfiguration) {
			return nil, err
		}
		modelID = ""
	}

	capab := access.Capability
	capab.ModelID = modelID
	capab.Source = tools.SourceDispatch
	return p.Tools.Call(ctx, capab, req.Tool, req.Args)
}
