package models

import (
	"encoding/json"
	"time"
)

// User is the local record for an authenticated identity.
type User struct {
	ID string `json:"_id"`
	// ExternalID is the identity provider's subject.
	ExternalID      string    `json:"externalId"`
	TokenIdentifier string    `json:"tokenIdentifier,omitempty"`
	Name            string    `json:"name"`
	Email           string    `json:"email,omitempty"`
	CreatedAt       time.Time `json:"_creationTime"`
}

// Machine is a tracked hardware asset.
type Machine struct {
	ID                  string    `json:"_id"`
	Name                string    `json:"name"`
	Make                string    `json:"make"`
	Model               string    `json:"model"`
	SerialNumber        string    `json:"serialNumber,omitempty"`
	Type                string    `json:"type,omitempty"`
	RAMGB               float64   `json:"ramGb,omitempty"`
	StorageCapacityGB   float64   `json:"storageCapacityGb,omitempty"`
	StorageType         string    `json:"storageType,omitempty"`
	GraphicsCardName    string    `json:"graphicsCardName,omitempty"`
	ProcessorName       string    `json:"processorName,omitempty"`
	AssignedToUserID    string    `json:"assignedToUserId,omitempty"`
	AssignedToUserEmail string    `json:"assignedToUserEmail,omitempty"`
	Status              string    `json:"status,omitempty"`
	CreatedAt           time.Time `json:"_creationTime"`
}

// TicketStatus values accepted by ticket tools.
var TicketStatuses = []string{"Open", "Assigned", "Closed", "On Hold", "Awaiting"}

// Ticket is a support request.
type Ticket struct {
	ID          string    `json:"_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedBy   string    `json:"createdBy"`
	AssignedTo  string    `json:"assignedTo,omitempty"`
	TeamID      string    `json:"teamId,omitempty"`
	MachineIDs  []string  `json:"machineIds,omitempty"`
	CreatedAt   time.Time `json:"_creationTime"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NoteTables lists the entity tables notes can attach to.
var NoteTables = []string{"machines", "users", "tickets"}

// Note is free text attached to a machine, user or ticket.
type Note struct {
	ID          string    `json:"_id"`
	EntityTable string    `json:"entityTable"`
	EntityID    string    `json:"entityId"`
	Content     string    `json:"content"`
	AuthorID    string    `json:"authorId"`
	CreatedAt   time.Time `json:"_creationTime"`
}

// Team groups users that tickets can be routed to.
type Team struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"_creationTime"`
}

// ConfigEntry is one App Configuration key.
type ConfigEntry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updatedAt"`
	UpdatedBy string          `json:"updatedBy"`
}
