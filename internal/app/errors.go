package app

import (
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// fieldErrors collects validation failures keyed by JSON field name.
type fieldErrors map[string]string

func (f fieldErrors) add(field, message string) {
	if _, exists := f[field]; !exists {
		f[field] = message
	}
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	messages := make([]string, 0, len(f))
	for _, field := range slices.Sorted(maps.Keys(f)) {
		messages = append(messages, f[field])
	}
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
		"Validation failed: "+strings.Join(messages, ", "), map[string]string(f))
}
