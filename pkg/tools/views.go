package tools

import (
	"github.com/pkg/errors"

	"assetdesk/pkg/apperr"
	"assetdesk/pkg/models"
	"assetdesk/pkg/store"
)

type userView struct {
	ID           string `json:"_id"`
	CreationTime string `json:"_creationTime"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
}

func viewUser(u models.User) userView {
	return userView{ID: u.ID, CreationTime: isoTime(u.CreatedAt), Name: u.Name, Email: u.Email}
}

func viewMachine(m models.Machine) map[string]interface{} {
	v := map[string]interface{}{
		"_id":               m.ID,
		"_creationTime":     isoTime(m.CreatedAt),
		"name":              m.Name,
		"make":              m.Make,
		"model":             m.Model,
		"serialNumber":      m.SerialNumber,
		"type":              m.Type,
		"ramGb":             m.RAMGB,
		"storageCapacityGb": m.StorageCapacityGB,
		"storageType":       m.StorageType,
		"graphicsCardName":  m.GraphicsCardName,
		"processorName":     m.ProcessorName,
		"status":            m.Status,
	}
	if m.AssignedToUserID != "" {
		v["assignedToUserId"] = m.AssignedToUserID
	}
	if m.AssignedToUserEmail != "" {
		v["assignedToUserEmail"] = m.AssignedToUserEmail
	}
	return v
}

type noteView struct {
	ID             string `json:"_id"`
	CreationTime   string `json:"_creationTime"`
	EntityTable    string `json:"entityTable"`
	EntityID       string `json:"entityId"`
	Content        string `json:"content"`
	CreatedBy      string `json:"createdBy"`
	CreatedByEmail string `json:"createdByEmail,omitempty"`
}

func viewNote(n models.Note) noteView {
	v := noteView{
		ID:           n.ID,
		CreationTime: isoTime(n.CreatedAt),
		EntityTable:  n.EntityTable,
		EntityID:     n.EntityID,
		Content:      n.Content,
		CreatedBy:    n.AuthorID,
	}
	if u, err := store.GetUser(n.AuthorID); err == nil {
		v.CreatedByEmail = u.Email
	}
	return v
}

type ticketView struct {
	ID              string     `json:"_id"`
	CreationTime    string     `json:"_creationTime"`
	UserID          string     `json:"userId"`
	UserName        string     `json:"userName"`
	UserEmail       string     `json:"userEmail,omitempty"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Status          string     `json:"status"`
	AssignedTo      string     `json:"assignedTo,omitempty"`
	AssignedToName  string     `json:"assignedToName,omitempty"`
	AssignedToEmail string     `json:"assignedToEmail,omitempty"`
	TeamID          string     `json:"teamId,omitempty"`
	TeamName        string     `json:"teamName,omitempty"`
	MachineIDs      []string   `json:"machineIds,omitempty"`
	UpdatedTime     string     `json:"updatedTime"`
	Notes           []noteView `json:"notes,omitempty"`
}

// viewTicket resolves creator, assignee and team names. Dangling references
// are shown by id only.
func viewTicket(t models.Ticket) ticketView {
	v := ticketView{
		ID:           t.ID,
		CreationTime: isoTime(t.CreatedAt),
		UserID:       t.CreatedBy,
		Name:         t.Name,
		Description:  t.Description,
		Status:       t.Status,
		AssignedTo:   t.AssignedTo,
		TeamID:       t.TeamID,
		MachineIDs:   t.MachineIDs,
		UpdatedTime:  isoTime(t.UpdatedAt),
	}
	if u, err := store.GetUser(t.CreatedBy); err == nil {
		v.UserName, v.UserEmail = u.Name, u.Email
	}
	if t.AssignedTo != "" {
		if u, err := store.GetUser(t.AssignedTo); err == nil {
			v.AssignedToName, v.AssignedToEmail = u.Name, u.Email
		}
	}
	if t.TeamID != "" {
		if team, err := store.GetTeam(t.TeamID); err == nil {
			v.TeamName = team.Name
		}
	}
	return v
}

// mustExist converts a store miss into a NotFound naming the kind and id.
func mustExist(err error, kind, id string) error {
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) != apperr.KindInternal {
		return err
	}
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("%s with ID %s not found", kind, id)
	}
	return errors.Wrapf(err, "load %s %s", kind, id)
}
