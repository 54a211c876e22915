package tools

import (
	"context"
	"encoding/json"
)

func (r *Registry) registerDateTime() {
	r.register(&Tool{
		Name:        GetCurrentDateTime,
		Description: "Get the current date and time as an ISO 8601 timestamp string (UTC). Use it when users ask how recent something is, then compare with entity _creationTime values.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		Handler: func(ctx context.Context, c Capability, _ map[string]interface{}) (interface{}, error) {
			return isoTime(r.now()), nil
		},
	})
}
