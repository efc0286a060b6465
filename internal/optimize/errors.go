package optimize

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies errors crossing the core boundary. Only some kinds ever
// reach a caller; KindCacheUnavailable in particular is absorbed internally
// and degrades to cache-miss behavior.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindRateLimit
	KindNotFound
	KindCacheUnavailable
	KindOptimizerFailure
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindRateLimit:
		return "rate_limit_exceeded"
	case KindNotFound:
		return "not_found"
	case KindCacheUnavailable:
		return "cache_unavailable"
	case KindOptimizerFailure:
		return "optimizer_failure"
	case KindTimeout:
		return "timeout"
	default:
		return "internal_error"
	}
}

// Error is the typed error carried across the pipeline.
type Error struct {
	Kind    Kind
	Message string
	Wrapped error

	// ResetAt and Limit are set for KindRateLimit: the earliest time a
	// retry can be admitted and the window's request budget.
	ResetAt time.Time
	Limit   int
}

func (e *Error) Error() string {
	if e.Wrapped != nil && e.Message == "" {
		return e.Wrapped.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Wrapped }

func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Wrapped: err}
}

// KindOf extracts the Kind from err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// AsError returns the typed error if err carries one, otherwise wraps it
// as an internal error so callers never leak raw error internals.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Message: "internal error", Wrapped: err}
}
