// Package mgerr defines the error taxonomy shared across MediaGit's
// storage, versioning, and transfer layers.
package mgerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way callers across package boundaries need
// to branch on: never by comparing message strings.
type Kind int

const (
	// Unknown is the zero value; never constructed intentionally.
	Unknown Kind = iota
	NotFound
	Integrity
	Corrupt
	MissingObject
	InvalidName
	NotFastForward
	Conflict
	IO
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Integrity:
		return "integrity"
	case Corrupt:
		return "corrupt"
	case MissingObject:
		return "missing_object"
	case InvalidName:
		return "invalid_name"
	case NotFastForward:
		return "not_fast_forward"
	case Conflict:
		return "conflict"
	case IO:
		return "io"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the single error type crossing package boundaries in MediaGit.
// It carries a machine-readable Kind plus a one-line human message.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a new Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds a new Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and message to an underlying cause, preserving it for
// errors.Is/As traversal.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Is reports whether err (or anything it wraps) is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or Unknown if err isn't a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
