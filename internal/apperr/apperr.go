// Package apperr defines the error taxonomy shared by the allocation engine.
package apperr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrValidation: missing or invalid input, rejected before touching the store.
	ErrValidation = errors.New("validation failed")
	// ErrNoCapacity: no candidate resource fits the request.
	ErrNoCapacity = errors.New("no suitable resource available")
	// ErrConcurrencyConflict: an atomic write lost a race to a competing writer.
	ErrConcurrencyConflict = errors.New("concurrent modification conflict")
	// ErrDataIntegrity: stored priority ranks are duplicated or non-contiguous.
	ErrDataIntegrity = errors.New("data integrity violation")
	ErrNotFound      = errors.New("record not found")
	// ErrInvalidTransition: a state machine was asked for a move it does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Error carries the failing operation next to one of the sentinel kinds.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Validation builds an ErrValidation for op.
func Validation(op, format string, args ...any) error {
	return newError(ErrValidation, op, format, args...)
}

// ValidationFrom wraps a field validation error (ozzo-validation Errors, parse errors).
func ValidationFrom(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: ErrValidation, Op: op, Err: err}
}

func NoCapacity(op, format string, args ...any) error {
	return newError(ErrNoCapacity, op, format, args...)
}

func Conflict(op, format string, args ...any) error {
	return newError(ErrConcurrencyConflict, op, format, args...)
}

func Integrity(op, format string, args ...any) error {
	return newError(ErrDataIntegrity, op, format, args...)
}

func NotFound(op, format string, args ...any) error {
	return newError(ErrNotFound, op, format, args...)
}

func InvalidTransition(op, format string, args ...any) error {
	return newError(ErrInvalidTransition, op, format, args...)
}

// Is reports whether err belongs to any of the taxonomy kinds.
func Is(err error) bool {
	for _, kind := range []error{ErrValidation, ErrNoCapacity, ErrConcurrencyConflict, ErrDataIntegrity, ErrNotFound, ErrInvalidTransition} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// Classify maps driver-level errors onto the taxonomy. Errors that already
// carry a kind, and errors it does not recognise, are returned unchanged.
func Classify(op string, err error) error {
	if err == nil || Is(err) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Error{Kind: ErrNotFound, Op: op, Err: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure,
			pgerrcode.DeadlockDetected,
			pgerrcode.LockNotAvailable,
			pgerrcode.ExclusionViolation,
			pgerrcode.UniqueViolation:
			return &Error{Kind: ErrConcurrencyConflict, Op: op, Err: err}
		}
		return err
	}

	// SQLite reports lock contention as plain text.
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked") {
		return &Error{Kind: ErrConcurrencyConflict, Op: op, Err: err}
	}
	return err
}
