// Package uuid generates the opaque identifiers used for upload sessions.
package uuid

import "github.com/google/uuid"

// NewString returns a new V7 UUID string. V7 UUIDs are time-ordered, which
// keeps upload directories roughly sorted by creation time.
func NewString() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Parse decodes s into a UUID or returns an error if it is not a valid UUID.
func Parse(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
