// Package uuid wraps google/uuid for the identifiers pagelock hands out.
package uuid

import "github.com/google/uuid"

// New returns a random (version 4) UUID string.
func New() string {
	return uuid.NewString()
}
