package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotSiblings   = errors.New("items are not siblings")
	ErrParentMissing = errors.New("parent item not found in roadmap")
)

const (
	sqlStateForeignKeyViolation = "23503"
	sqlStateCheckViolation      = "23514"
	sqlStateInvalidText         = "22P02"
)

func pgState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.SQLState()
	}
	return ""
}

// IsForeignKeyViolation reports whether err is a postgres FK violation.
func IsForeignKeyViolation(err error) bool {
	return pgState(err) == sqlStateForeignKeyViolation
}

func IsCheckViolation(err error) bool {
	return pgState(err) == sqlStateCheckViolation
}

// IsInvalidInput is true for malformed values such as a bad uuid literal.
func IsInvalidInput(err error) bool {
	return pgState(err) == sqlStateInvalidText
}
