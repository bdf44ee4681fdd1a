// Package apperr defines the error taxonomy surfaced by the lifecycle services.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers. Only Conflict caused by a version
// mismatch is ever retried, and that happens inside the services.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindAuthorization
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "forbidden"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind and message, so sentinels declared
// with the constructors below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an infrastructure failure.
func Internal(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// Wrap attaches a cause to a classified error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the message of the first *Error in err's chain, or err.Error().
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

func IsValidation(err error) bool    { return err != nil && KindOf(err) == KindValidation }
func IsNotFound(err error) bool      { return err != nil && KindOf(err) == KindNotFound }
func IsAuthorization(err error) bool { return err != nil && KindOf(err) == KindAuthorization }
func IsConflict(err error) bool      { return err != nil && KindOf(err) == KindConflict }

// Shared conflict messages.
var (
	ErrPostAlreadyMatched  = Conflict("post already matched")
	ErrRetriesExhausted    = Conflict("concurrent modification, retries exhausted")
	ErrChatInconsistent    = Conflict("chat room could not be provisioned consistently")
	ErrApplicationExists   = Conflict("an active application already exists for this post")
	ErrSelfApplication     = Conflict("post owner cannot apply to own post")
	ErrIdempotencyKeyReuse = Conflict("idempotency key already used for a different post")
	ErrIdempotencyKeyOwner = Conflict("idempotency key belongs to another tutor")
)
