package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random (v4) UUID string.
func NewID() string {
	return uuid.NewString()
}

// IsUUID reports whether value is a canonical UUID.
func IsUUID(value string) bool {
	value = strings.TrimSpace(value)
	if len(value) != 36 {
		return false
	}
	_, err := uuid.Parse(value)
	return err == nil
}
