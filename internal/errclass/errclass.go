// Package errclass normalizes provider-level failures into a small set of
// classes the Send Router and Session Supervisor can reason about without
// re-inspecting raw upstream error codes. This replaces the teacher's
// ErrTransient/ErrPermanent sentinel pair (internal/adapters/common/errors.go)
// with a richer classification while keeping the same errors.Is-compatible
// wrapping idiom.
package errclass

import (
	"errors"
	"fmt"
)

// Class enumerates the normalized error classes a Provider can report.
type Class string

const (
	RateLimit            Class = "rate_limit"
	TemplateError        Class = "template_error"
	ServerError          Class = "server_error"
	Timeout              Class = "timeout"
	InvalidPhone         Class = "invalid_phone"
	AuthError            Class = "auth_error"
	TemplateNotSupported Class = "template_not_supported"
	Other                Class = "other"
)

// sentinel errors, one per class, so callers can use errors.Is against a
// wrapped error without inspecting the Class value directly.
var (
	ErrRateLimit            = errors.New(string(RateLimit))
	ErrTemplateError        = errors.New(string(TemplateError))
	ErrServerError          = errors.New(string(ServerError))
	ErrTimeout              = errors.New(string(Timeout))
	ErrInvalidPhone         = errors.New(string(InvalidPhone))
	ErrAuthError            = errors.New(string(AuthError))
	ErrTemplateNotSupported = errors.New(string(TemplateNotSupported))
	ErrOther                = errors.New(string(Other))
)

func sentinelFor(c Class) error {
	switch c {
	case RateLimit:
		return ErrRateLimit
	case TemplateError:
		return ErrTemplateError
	case ServerError:
		return ErrServerError
	case Timeout:
		return ErrTimeout
	case InvalidPhone:
		return ErrInvalidPhone
	case AuthError:
		return ErrAuthError
	case TemplateNotSupported:
		return ErrTemplateNotSupported
	default:
		return ErrOther
	}
}

// Error wraps an underlying provider error with its normalized Class.
type Error struct {
	Class Class
	Err   error
}

// Wrap annotates err with the supplied class. A nil err still produces a
// non-nil *Error carrying the class sentinel, mirroring the teacher's
// WrapTransient/WrapPermanent behaviour for nil inputs.
func Wrap(class Class, err error) *Error {
	if err == nil {
		err = sentinelFor(class)
	}
	return &Error{Class: class, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, errclass.ErrRateLimit) (and friends) to match any
// *Error carrying that class, regardless of the wrapped underlying error.
func (e *Error) Is(target error) bool {
	return errors.Is(sentinelFor(e.Class), target)
}

// ClassOf extracts the Class from err if it (or something it wraps) is an
// *Error; otherwise returns Other.
func ClassOf(err error) Class {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class
	}
	return Other
}

// Retryable reports whether a single provider can be retried for this class
// without failing over to another provider.
func (c Class) Retryable() bool {
	switch c {
	case InvalidPhone, AuthError, TemplateNotSupported:
		return false
	default:
		return true
	}
}

// TriggersFallback reports whether this class should cause the Send Router
// to move on to the next candidate provider. Defaults mirror spec.md §4.4;
// callers may override per-class via configured fallback triggers.
func (c Class) TriggersFallback(triggers Triggers) bool {
	switch c {
	case InvalidPhone, AuthError, TemplateNotSupported:
		return false
	case Timeout:
		return triggers.Timeout
	case RateLimit:
		return triggers.RateLimit
	case TemplateError:
		return triggers.TemplateError
	case ServerError:
		return triggers.ServerError
	default:
		return false
	}
}

// Triggers mirrors config.FallbackTriggers without importing the config
// package, keeping errclass dependency-free of the rest of the gateway.
type Triggers struct {
	Timeout       bool
	RateLimit     bool
	TemplateError bool
	ServerError   bool
}
