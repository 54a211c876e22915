package tools

import (
	"context"
	"encoding/json"
	"strings"

	"assetdesk/pkg/models"
	"assetdesk/pkg/store"
	"assetdesk/pkg/validation"
)

func (r *Registry) registerUsers() {
	r.register(&Tool{
		Name:        SearchUsers,
		Description: "Search for users by name or email address. Returns at most 1 matching user with their id, name, and email, or null when nobody matches.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"searchTerm":{"type":"string","minLength":1,"description":"Matched case-insensitively against user names and email addresses."}},
			"required":["searchTerm"]}`),
		Rules: validation.Rules{
			Required: []string{"searchTerm"},
			Types:    map[string]string{"searchTerm": "string"},
			NonBlank: []string{"searchTerm"},
		},
		RequiresThread: true,
		Handler: func(ctx context.Context, c Capability, args map[string]interface{}) (interface{}, error) {
			term := strings.ToLower(strings.TrimSpace(str(args, "searchTerm")))
			found, err := store.ListUsers(func(u *models.User) bool {
				return strings.Contains(strings.ToLower(u.Name), term) || strings.Contains(strings.ToLower(u.Email), term)
			}, 1)
			if err != nil {
				return nil, err
			}
			if len(found) == 0 {
				return nil, nil
			}
			return viewUser(found[0]), nil
		},
	})
}
