// Package apperr classifies failures at the service boundary and turns
// them into HTTP statuses and user-readable messages.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

type Kind int

const (
	KindInternal Kind = iota
	KindUnavailable
	KindUnauthorized
	KindForbidden
	KindValidation
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	}
	return "internal"
}

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

func NotFound(op, what string) error {
	return &Error{Kind: KindNotFound, Op: op, Err: errors.New(what + " not found")}
}

func Unauthorized(op string) error {
	return &Error{Kind: KindUnauthorized, Op: op, Err: errors.New("not authenticated")}
}

func Forbidden(op, why string) error {
	return &Error{Kind: KindForbidden, Op: op, Err: errors.New("permission denied: " + why)}
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Translate classifies a raw store or transport error. Already classified
// errors pass through unchanged.
func Translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: classify(err), Op: op, Err: err}
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, gorm.ErrForeignKeyViolated):
		return KindNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return KindConflict
	case errors.Is(err, context.DeadlineExceeded):
		return KindUnavailable
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return KindConflict
		case "23503":
			return KindNotFound
		case "42501":
			return KindForbidden
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindUnavailable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint"), strings.Contains(msg, "duplicate key"):
		return KindConflict
	case strings.Contains(msg, "foreign key"):
		return KindNotFound
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "database is locked"):
		return KindUnavailable
	}
	return KindInternal
}

// Status maps an error to the HTTP status a handler should reply with.
func Status(err error) int {
	switch KindOf(err) {
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
