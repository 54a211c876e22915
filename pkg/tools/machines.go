package tools

import (
	"context"
	"encoding/json"
	"strings"

	"assetdesk/pkg/models"
	"assetdesk/pkg/store"
	"assetdesk/pkg/validation"
)

const maxMachineResults = 10

// machineFields are the optional columns searchMachines can add; _id, name,
// make and model are always present.
var machineFields = []string{
	"_creationTime", "serialNumber", "type", "ramGb", "storageCapacityGb", "storageType",
	"graphicsCardName", "processorName", "assignedToUserId", "assignedToUserEmail", "status",
}

func (r *Registry) registerAssets() {
	r.register(&Tool{
		Name:           GetMyAssets,
		Description:    "Retrieve the user's own assets (machines assigned to them). Returns a list of machines with their specifications including RAM, storage, graphics card, processor, and status.",
		Parameters:     json.RawMessage(`{"type":"object","properties":{}}`),
		RequiresThread: true,
		Handler: func(ctx context.Context, c Capability, _ map[string]interface{}) (interface{}, error) {
			ms, err := store.ListMachines(func(m *models.Machine) bool { return m.AssignedToUserID == c.UserID }, 0)
			if err != nil {
				return nil, err
			}
			out := make([]map[string]interface{}, 0, len(ms))
			for _, m := range ms {
				out = append(out, viewMachine(m))
			}
			return out, nil
		},
	})

	r.register(&Tool{
		Name:        SearchMachines,
		Description: "Search for machines by assignedToUserId and/or name. Returns at most 10 matching machines. Always returns name, make, model, and id. Use the fields parameter to select additional fields. The name search is case-insensitive and matches partial names.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"assignedToUserId":{"type":"string","description":"Filter by the _id of the user the machine is assigned to. Use searchUsers to find user ids."},
			"name":{"type":"string","description":"Case-insensitive partial match on the machine name."},
			"fields":{"type":"array","items":{"type":"string","enum":["_creationTime","serialNumber","type","ramGb","storageCapacityGb","storageType","graphicsCardName","processorName","assignedToUserId","assignedToUserEmail","status"]},"description":"Additional fields to include."}}}`),
		Rules: validation.Rules{
			Types: map[string]string{"assignedToUserId": "string", "name": "string", "fields": "string[]"},
			Enums: map[string][]string{"fields": machineFields},
		},
		RequiresThread: true,
		Handler:        searchMachines,
	})
}

func searchMachines(ctx context.Context, c Capability, args map[string]interface{}) (interface{}, error) {
	needle := strings.ToLower(strings.TrimSpace(str(args, "name")))
	owner := str(args, "assignedToUserId")
	ms, err := store.ListMachines(func(m *models.Machine) bool {
		if owner != "" && m.AssignedToUserID != owner {
			return false
		}
		return needle == "" || strings.Contains(strings.ToLower(m.Name), needle)
	}, maxMachineResults)
	if err != nil {
		return nil, err
	}
	selected := strs(args, "fields")
	out := make([]map[string]interface{}, 0, len(ms))
	for _, m := range ms {
		full := viewMachine(m)
		row := map[string]interface{}{"_id": m.ID, "name": m.Name, "make": m.Make, "model": m.Model}
		for _, f := range selected {
			if v, ok := full[f]; ok {
				row[f] = v
			}
		}
		out = append(out, row)
	}
	return out, nil
}
