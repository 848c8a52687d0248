package types

import (
	"github.com/google/uuid"
)

// SessiondID identifies a session daemon instance. Relay-side registries are
// keyed by it so chunks from distinct daemons never alias.
type SessiondID = uuid.UUID

// NewSessiondID generates a random session daemon identifier.
func NewSessiondID() SessiondID {
	return uuid.New()
}

// ParseSessiondID validates and converts a string to SessiondID.
// Rejects malformed UUIDs to prevent invalid IDs from entering a registry.
func ParseSessiondID(s string) (SessiondID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// NewInstanceID generates a UUIDv7 identifier for daemon instances and
// persisted rows. Time-ordered IDs keep sequential inserts clustered.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewInstanceID() string {
	return uuid.Must(uuid.NewV7()).String()
}
