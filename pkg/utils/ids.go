package utils

import (
	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
)

// NewThreadID returns a random thread id.
func NewThreadID() string { return uuid.NewString() }

// NewMessageID returns a time-ordered message id.
func NewMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewEntityID returns a compact id for users, machines, tickets and notes.
func NewEntityID() string { return shortuuid.New() }
