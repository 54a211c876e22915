package tools

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"assetdesk/pkg/apperr"
	"assetdesk/pkg/models"
	"assetdesk/pkg/store"
	"assetdesk/pkg/utils"
	"assetdesk/pkg/validation"
)

const ticketStatusEnum = `["Open","Assigned","Closed","On Hold","Awaiting"]`

var ticketUpdateFields = []string{"status", "assignedTo", "name", "description", "teamId"}

func (r *Registry) registerTickets() {
	r.register(&Tool{
		Name:        CreateTicket,
		Description: "Create a new support ticket to report an issue, request assistance, or track a problem. Optionally assign it to a user, route it to a team, and link machines.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"name":{"type":"string","minLength":1,"description":"A brief title for the ticket"},
			"description":{"type":"string","minLength":1,"description":"A detailed description of the issue or request"},
			"status":{"type":"string","enum":` + ticketStatusEnum + `,"description":"Defaults to Open"},
			"assignedTo":{"type":"string","description":"The _id of the user to assign. Use searchUsers to find user ids."},
			"teamId":{"type":"string","description":"The _id of the team handling the ticket. The assignee must be a member."},
			"machineIds":{"type":"array","items":{"type":"string"},"description":"Machine ids to link to the ticket"}},
			"required":["name","description"]}`),
		Rules: validation.Rules{
			Required: []string{"name", "description"},
			Types: map[string]string{
				"name": "string", "description": "string", "status": "string",
				"assignedTo": "string", "teamId": "string", "machineIds": "string[]",
			},
			NonBlank: []string{"name", "description"},
			MaxLen:   map[string]int{"name": 200},
			Enums:    map[string][]string{"status": models.TicketStatuses},
		},
		RequiresThread: true,
		Handler:        r.createTicket,
	})

	r.register(&Tool{
		Name:        UpdateTicket,
		Description: "Update an existing ticket. Provide only the fields to change: status, assignedTo, name, description, teamId. Status can be Open, Assigned, Closed, On Hold, or Awaiting. Pass null for assignedTo or teamId to clear it.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"ticketId":{"type":"string","description":"The ID of the ticket to update"},
			"status":{"type":"string","enum":` + ticketStatusEnum + `},
			"assignedTo":{"type":["string","null"],"description":"User _id to assign, or null to unassign"},
			"teamId":{"type":["string","null"],"description":"Team _id, or null to clear"},
			"name":{"type":"string"},
			"description":{"type":"string"}},
			"required":["ticketId"]}`),
		Rules: validation.Rules{
			Required: []string{"ticketId"},
			Types: map[string]string{
				"ticketId": "string", "status": "string", "assignedTo": "string",
				"teamId": "string", "name": "string", "description": "string",
			},
			Nullable:   map[string]bool{"assignedTo": true, "teamId": true},
			NonBlank:   []string{"ticketId", "name", "description"},
			MaxLen:     map[string]int{"name": 200},
			Enums:      map[string][]string{"status": models.TicketStatuses},
			AtLeastOne: ticketUpdateFields,
		},
		RequiresThread: true,
		Handler:        r.updateTicket,
	})

	r.register(&Tool{
		Name:        GetTicketByID,
		Description: "Retrieve a ticket by its ID, including creator, assignee, team and all notes on the ticket. Returns null when the ticket does not exist.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"ticketId":{"type":"string","description":"The ID of the ticket to retrieve"}},"required":["ticketId"]}`),
		Rules: validation.Rules{
			Required: []string{"ticketId"},
			Types:    map[string]string{"ticketId": "string"},
		},
		RequiresThread: true,
		Handler: func(ctx context.Context, c Capability, args map[string]interface{}) (interface{}, error) {
			id := str(args, "ticketId")
			t, err := store.GetTicket(id)
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			v := viewTicket(t)
			notes, err := store.ListNotes("tickets", id)
			if err != nil {
				return nil, err
			}
			v.Notes = make([]noteView, 0, len(notes))
			for _, n := range notes {
				v.Notes = append(v.Notes, viewNote(n))
			}
			return v, nil
		},
	})

	r.register(&Tool{
		Name:           GetMyAssignedTickets,
		Description:    "Retrieve all tickets assigned to the current user, newest first.",
		Parameters:     json.RawMessage(`{"type":"object","properties":{}}`),
		RequiresThread: true,
		Handler: func(ctx context.Context, c Capability, _ map[string]interface{}) (interface{}, error) {
			return listTickets(func(t *models.Ticket) bool { return t.AssignedTo == c.UserID })
		},
	})

	r.register(&Tool{
		Name:           GetMyCreatedTickets,
		Description:    "Retrieve all tickets created by the current user, newest first.",
		Parameters:     json.RawMessage(`{"type":"object","properties":{}}`),
		RequiresThread: true,
		Handler: func(ctx context.Context, c Capability, _ map[string]interface{}) (interface{}, error) {
			return listTickets(func(t *models.Ticket) bool { return t.CreatedBy == c.UserID })
		},
	})
}

func listTickets(keep func(*models.Ticket) bool) ([]ticketView, error) {
	ts, err := store.ListTickets(keep, 0)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(ts, func(i, j int) bool { return ts[i].CreatedAt.After(ts[j].CreatedAt) })
	out := make([]ticketView, 0, len(ts))
	for _, t := range ts {
		out = append(out, viewTicket(t))
	}
	return out, nil
}

// checkAssignment verifies the referenced user and team exist and that the
// user belongs to the team when both are set.
func checkAssignment(assignee, teamID string) error {
	if assignee != "" {
		_, err := store.GetUser(assignee)
		if err := mustExist(err, "User", assignee); err != nil {
			return err
		}
	}
	if teamID != "" {
		_, err := store.GetTeam(teamID)
		if err := mustExist(err, "Team", teamID); err != nil {
			return err
		}
	}
	if assignee != "" && teamID != "" {
		ok, err := store.IsTeamMember(teamID, assignee)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Invalid("assignedTo", "assigned user is not a member of the selected team")
		}
	}
	return nil
}

func (r *Registry) createTicket(ctx context.Context, c Capability, args map[string]interface{}) (interface{}, error) {
	assignee, teamID := str(args, "assignedTo"), str(args, "teamId")
	if err := checkAssignment(assignee, teamID); err != nil {
		return nil, err
	}
	machineIDs := strs(args, "machineIds")
	for _, id := range machineIDs {
		_, err := store.GetMachine(id)
		if err := mustExist(err, "Machine", id); err != nil {
			return nil, err
		}
	}
	status := str(args, "status")
	if status == "" {
		status = "Open"
	}
	now := r.now().UTC()
	t := models.Ticket{
		ID:          utils.NewEntityID(),
		Name:        strings.TrimSpace(str(args, "name")),
		Description: strings.TrimSpace(str(args, "description")),
		Status:      status,
		CreatedBy:   c.UserID,
		AssignedTo:  assignee,
		TeamID:      teamID,
		MachineIDs:  machineIDs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.PutTicket(t); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"ticketId":    t.ID,
		"name":        t.Name,
		"description": t.Description,
		"status":      t.Status,
		"success":     true,
	}, nil
}

func (r *Registry) updateTicket(ctx context.Context, c Capability, args map[string]interface{}) (interface{}, error) {
	id := str(args, "ticketId")
	var updated []string
	for _, f := range ticketUpdateFields {
		if has(args, f) {
			updated = append(updated, f)
		}
	}
	_, err := store.UpdateTicket(id, func(t *models.Ticket) error {
		assignee, teamID := t.AssignedTo, t.TeamID
		if has(args, "assignedTo") {
			assignee = str(args, "assignedTo")
		}
		if has(args, "teamId") {
			teamID = str(args, "teamId")
		}
		if err := checkAssignment(assignee, teamID); err != nil {
			return err
		}
		t.AssignedTo, t.TeamID = assignee, teamID
		if has(args, "status") {
			t.Status = str(args, "status")
		}
		if has(args, "name") {
			t.Name = strings.TrimSpace(str(args, "name"))
		}
		if has(args, "description") {
			t.Description = strings.TrimSpace(str(args, "description"))
		}
		return nil
	})
	if err := mustExist(err, "Ticket", id); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"ticketId":      id,
		"success":       true,
		"updatedFields": updated,
	}, nil
}
