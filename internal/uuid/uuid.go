// Package uuid provides identifier generation and validation for queued sync
// items and client-side entity ids.
package uuid

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Canonical textual form: xxxxxxxx-xxxx-Vxxx-yxxx-xxxxxxxxxxxx
// where y is one of [8, 9, a, b] (variant bits)
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[1-8][0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New generates a random UUID v4. Used for client-side entity ids.
func New() string {
	return uuid.New().String()
}

// NewOrdered generates a time-ordered UUID v7. Ids produced later sort after
// earlier ones, which keeps persisted queue keys in enqueue order.
func NewOrdered() string {
	id, err := uuid.NewV7()
	if err != nil {
		// v7 only fails when the random source does
		return uuid.New().String()
	}
	return id.String()
}

// Parse parses a UUID of any version.
func Parse(s string) (uuid.UUID, error) {
	if !IsValid(s) {
		return uuid.Nil, fmt.Errorf("invalid UUID format: %q", s)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID: %w", err)
	}
	return id, nil
}

// IsValid checks if a string is a canonical RFC 4122 UUID.
// Enforces strict format with dashes and correct variant bits.
func IsValid(s string) bool {
	return uuidRegex.MatchString(s)
}

// Validate returns an error if the string is not a canonical UUID.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID format: %q", s)
	}
	return nil
}
