package app

import (
	"errors"
	"fmt"
)

// Kind classifies engine outcomes for callers. NotFound and Conflict are
// expected business results; LockTimeout is retryable at the caller's
// discretion; Internal indicates a broken invariant and is never retried.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindConflict
	KindLockTimeout
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindLockTimeout:
		return "lock_timeout"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// KindOf extracts the error kind, or KindInternal for untyped failures.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func notFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

func lockTimeout(code, message string) *Error {
	return &Error{Kind: KindLockTimeout, Code: code, Message: message}
}

func internalErr(code, message string) *Error {
	return &Error{Kind: KindInternal, Code: code, Message: message}
}
