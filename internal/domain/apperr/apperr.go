// Package apperr defines the error kinds shared by the bed engine's domain
// packages. Every failure returned by a service wraps exactly one kind so
// callers can branch with errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error kinds.
var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrInvalidAssignment       = errors.New("invalid assignment")
	ErrInvalidOperation        = errors.New("invalid operation")
	ErrDuplicateEntry          = errors.New("duplicate entry")
	ErrConcurrentModification  = errors.New("concurrent modification")
	ErrValidation              = errors.New("validation error")
)

// Error is a typed failure carrying the kind plus enough context for the
// caller (or an operator reading logs) to see what was attempted.
type Error struct {
	Kind   error
	Op     string
	Entity string
	ID     string
	// From/To hold the current and requested status for transitions, or
	// the actual and expected state for workflow preconditions.
	From string
	To   string
	Msg  string
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Entity != "" {
		b.WriteString(": ")
		b.WriteString(e.Entity)
		if e.ID != "" {
			b.WriteString(" ")
			b.WriteString(e.ID)
		}
	}
	switch {
	case errors.Is(e.Kind, ErrInvalidStatusTransition):
		fmt.Fprintf(&b, " (%s -> %s)", e.From, e.To)
	case e.From != "" || e.To != "":
		fmt.Fprintf(&b, " (expected %s, got %s)", e.To, e.From)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

// NotFound reports a missing entity.
func NotFound(entity, id string) error {
	return &Error{Kind: ErrNotFound, Entity: entity, ID: id}
}

// InvalidTransition reports a bed status pair outside the transition table.
func InvalidTransition(bedID, from, to string) error {
	return &Error{Kind: ErrInvalidStatusTransition, Entity: "bed", ID: bedID, From: from, To: to}
}

// InvalidOperation reports a workflow step attempted from the wrong state.
func InvalidOperation(op, entity, id, expected, actual string) error {
	return &Error{Kind: ErrInvalidOperation, Op: op, Entity: entity, ID: id, From: actual, To: expected}
}

// InvalidAssignment reports a resident mismatch against a reservation.
func InvalidAssignment(bedID, msg string) error {
	return &Error{Kind: ErrInvalidAssignment, Entity: "bed", ID: bedID, Msg: msg}
}

// Duplicate reports a uniqueness violation such as a second Active entry.
func Duplicate(entity, id, msg string) error {
	return &Error{Kind: ErrDuplicateEntry, Entity: entity, ID: id, Msg: msg}
}

// Conflict reports a failed optimistic-concurrency guard.
func Conflict(entity, id string) error {
	return &Error{Kind: ErrConcurrentModification, Entity: entity, ID: id, Msg: "record changed since it was read; retry the operation"}
}

// Validation reports malformed input caught before any state is touched.
func Validation(msg string) error {
	return &Error{Kind: ErrValidation, Msg: msg}
}

// Validationf is Validation with formatting.
func Validationf(format string, args ...any) error {
	return Validation(fmt.Sprintf(format, args...))
}

// WithOp stamps the operation name on err when it is an *Error without one.
func WithOp(op string, err error) error {
	var ae *Error
	if errors.As(err, &ae) && ae.Op == "" {
		cp := *ae
		cp.Op = op
		return &cp
	}
	return err
}

// HTTPStatus maps an error kind to the status code handlers respond with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidStatusTransition),
		errors.Is(err, ErrInvalidAssignment),
		errors.Is(err, ErrInvalidOperation),
		errors.Is(err, ErrDuplicateEntry),
		errors.Is(err, ErrConcurrentModification):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
