// Package uuid generates random identifiers for stored configurations.
package uuid

import "github.com/google/uuid"

// New returns a random (version 4) UUID string.
func New() string {
	return uuid.New().String()
}
