package roadmap

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed editor operation.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindRemoteRejected    ErrorKind = "remote_rejected"
	KindRemoteUnreachable ErrorKind = "remote_unreachable"
	KindUnexpected        ErrorKind = "unexpected"
	KindInvalid           ErrorKind = "invalid"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid input")
)

type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ValidationError is a boundary check failure. It never reaches the remote.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// RemoteError is a failure talking to the remote store. Status is zero when
// the request never produced a response.
type RemoteError struct {
	Kind    ErrorKind
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// KindOf maps any error to its place in the taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		if remote.Kind == "" {
			return KindUnexpected
		}
		return remote.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	if errors.Is(err, ErrInvalid) {
		return KindInvalid
	}
	return KindUnexpected
}

// Message is the display text recorded in editor state for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if msg == "" {
		return "An unexpected error occurred"
	}
	return msg
}
