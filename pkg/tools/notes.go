package tools

import (
	"context"
	"encoding/json"
	"strings"

	"assetdesk/pkg/models"
	"assetdesk/pkg/store"
	"assetdesk/pkg/utils"
	"assetdesk/pkg/validation"
)

var noteRules = validation.Rules{
	Required: []string{"entityTable", "entityId"},
	Types:    map[string]string{"entityTable": "string", "entityId": "string"},
	NonBlank: []string{"entityId"},
	Enums:    map[string][]string{"entityTable": models.NoteTables},
}

func (r *Registry) registerNotes() {
	r.register(&Tool{
		Name:        GetNotesForEntity,
		Description: `Get all notes for a specific entity. Provide the entity table name and entity ID. Available entity tables: "machines", "users", "tickets". Returns notes with their content, creation time, and creator.`,
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"entityTable":{"type":"string","enum":["machines","users","tickets"]},
			"entityId":{"type":"string","description":"The ID of the entity to get notes for"}},
			"required":["entityTable","entityId"]}`),
		Rules:          noteRules,
		RequiresThread: true,
		Handler: func(ctx context.Context, c Capability, args map[string]interface{}) (interface{}, error) {
			notes, err := store.ListNotes(str(args, "entityTable"), str(args, "entityId"))
			if err != nil {
				return nil, err
			}
			out := make([]noteView, 0, len(notes))
			for _, n := range notes {
				out = append(out, viewNote(n))
			}
			return out, nil
		},
	})

	addRules := noteRules
	addRules.Required = append([]string{"content"}, noteRules.Required...)
	addRules.Types = map[string]string{"entityTable": "string", "entityId": "string", "content": "string"}
	addRules.NonBlank = []string{"entityId", "content"}
	r.register(&Tool{
		Name:        AddNoteToEntity,
		Description: `Add a note to an entity. Provide the entity table name and entity ID. Available entity tables: "machines", "users", "tickets". The note is visible to anyone who views that entity.`,
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"entityTable":{"type":"string","enum":["machines","users","tickets"]},
			"entityId":{"type":"string","description":"The ID of the entity to add a note to"},
			"content":{"type":"string","minLength":1,"description":"The content of the note"}},
			"required":["entityTable","entityId","content"]}`),
		Rules:          addRules,
		RequiresThread: true,
		Handler:        r.addNote,
	})
}

func (r *Registry) addNote(ctx context.Context, c Capability, args map[string]interface{}) (interface{}, error) {
	table, id := str(args, "entityTable"), str(args, "entityId")
	content := strings.TrimSpace(str(args, "content"))
	if err := entityExists(table, id); err != nil {
		return nil, err
	}
	n := models.Note{
		ID:          utils.NewEntityID(),
		EntityTable: table,
		EntityID:    id,
		Content:     content,
		AuthorID:    c.UserID,
		CreatedAt:   r.now().UTC(),
	}
	if err := store.PutNote(n); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"noteId":      n.ID,
		"entityTable": table,
		"entityId":    id,
		"content":     content,
		"success":     true,
	}, nil
}

// entityExists checks a note target; table was validated against NoteTables.
func entityExists(table, id string) error {
	var err error
	switch table {
	case "machines":
		_, err = store.GetMachine(id)
		return mustExist(err, "Machine", id)
	case "users":
		_, err = store.GetUser(id)
		return mustExist(err, "User", id)
	default:
		_, err = store.GetTicket(id)
		return mustExist(err, "Ticket", id)
	}
}
