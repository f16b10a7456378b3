// Package id generates run identifiers.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator mints identifiers for new runs.
type Generator interface {
	NewID() (uuid.UUID, error)
}

// V7 produces time-ordered UUIDv7 values.
type V7 struct{}

// NewID returns a UUIDv7.
func (V7) NewID() (uuid.UUID, error) {
	v, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid7: %w", err)
	}
	return v, nil
}
