package store

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"assetdesk/pkg/logger"
	"assetdesk/pkg/models"
)

// PutMachine creates or replaces a machine.
func PutMachine(m models.Machine) error {
	if m.ID == "" {
		return errors.New("machine id is required")
	}
	return putJSON(machineKey(m.ID), m)
}

// GetMachine loads a machine by id.
func GetMachine(id string) (models.Machine, error) {
	var m models.Machine
	err := getJSON(machineKey(id), &m)
	return m, err
}

// ListMachines returns machines accepted by keep, up to limit.
func ListMachines(keep func(*models.Machine) bool, limit int) ([]models.Machine, error) {
	return decodeEach("machine:", keep, limit)
}

// PutTicket creates or replaces a ticket including its machine links.
func PutTicket(t models.Ticket) error {
	if t.ID == "" {
		return errors.New("ticket id is required")
	}
	if err := putJSON(ticketKey(t.ID), t); err != nil {
		return err
	}
	logger.Log.Info("ticket_saved", zap.String("ticket", t.ID), zap.String("status", t.Status))
	return nil
}

// GetTicket loads a ticket by id.
func GetTicket(id string) (models.Ticket, error) {
	var t models.Ticket
	err := getJSON(ticketKey(id), &t)
	return t, err
}

// ListTickets returns tickets accepted by keep, up to limit.
func ListTickets(keep func(*models.Ticket) bool, limit int) ([]models.Ticket, error) {
	return decodeEach("ticket:", keep, limit)
}

// PutNote appends a note to an entity.
func PutNote(n models.Note) error {
	if n.ID == "" || n.EntityTable == "" || n.EntityID == "" {
		return errors.New("note id and entity are required")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return putJSON(noteKey(n.EntityTable, n.EntityID, n.CreatedAt.UnixNano(), n.ID), n)
}

// ListNotes returns an entity's notes, oldest first.
func ListNotes(table, entityID string) ([]models.Note, error) {
	return decodeEach[models.Note](notePrefix(table, entityID), nil, 0)
}

// PutTeam creates or replaces a team.
func PutTeam(t models.Team) error {
	if t.ID == "" {
		return errors.New("team id is required")
	}
	return putJSON(teamKey(t.ID), t)
}

// GetTeam loads a team by id.
func GetTeam(id string) (models.Team, error) {
	var t models.Team
	err := getJSON(teamKey(id), &t)
	return t, err
}

// AddTeamMember records membership.
func AddTeamMember(teamID, userID string) error {
	if db == nil {
		return ErrNotOpen
	}
	b := db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte(teamMemberKey(teamID, userID)), nil, nil); err != nil {
		return err
	}
	return commit(b, teamMemberKey(teamID, userID))
}

// IsTeamMember reports whether userID belongs to teamID.
func IsTeamMember(teamID, userID string) (bool, error) {
	_, err := getRaw([]byte(teamMemberKey(teamID, userID)))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// UpdateTicket applies fn to the stored ticket and saves the result. fn runs
// under the ticket's lock; returning an error leaves the ticket untouched.
func UpdateTicket(id string, fn func(t *models.Ticket) error) (models.Ticket, error) {
	mu := lockFor(ticketKey(id))
	mu.Lock()
	defer mu.Unlock()
	t, err := GetTicket(id)
	if err != nil {
		return t, err
	}
	if err := fn(&t); err != nil {
		return models.Ticket{}, err
	}
	t.UpdatedAt = time.Now().UTC()
	if err := PutTicket(t); err != nil {
		return models.Ticket{}, err
	}
	return t, nil
}
