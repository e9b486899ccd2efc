// Package errs classifies relay failures so the HTTP layer can map them to status codes and reply bodies.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind of failure.
type Kind int

// Failure kinds.
const (
	Internal Kind = iota
	Validation
	NotFound
	Conflict
	Permission
	Chain         // the chain rejected a write or a query
	Timeout       // a bounded wait elapsed
	Inconsistency // the chain write happened but the store does not reflect it
)

var kindNames = map[Kind]string{
	Internal:      "internal",
	Validation:    "validation",
	NotFound:      "not found",
	Conflict:      "conflict",
	Permission:    "permission",
	Chain:         "chain",
	Timeout:       "timeout",
	Inconsistency: "inconsistency",
}

func (k Kind) String() string {
	return kindNames[k]
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Permission:
		return http.StatusForbidden
	}

	return http.StatusInternalServerError
}

// Error is a classified failure. Msg is shown to the caller as is, Details carries the underlying cause.
type Error struct {
	Kind    Kind
	Msg     string
	Details string
	Address string // set for conflicts that reveal the existing account
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a classified error. When err is not nil its text becomes the details.
func E(k Kind, msg string, err error) *Error {
	e := &Error{Kind: k, Msg: msg, Err: err}
	if err != nil {
		e.Details = err.Error()
	}

	return e
}

// KindOf returns the kind of the first classified error in the chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return Internal
}

// Is reports whether err was classified as k.
func Is(err error, k Kind) bool {
	var e *Error

	return errors.As(err, &e) && e.Kind == k
}
