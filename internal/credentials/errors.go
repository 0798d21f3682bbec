package credentials

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a resolution failure.
type Kind int

const (
	// KindTransient is retried up to the cap and then surfaced.
	KindTransient Kind = iota
	// KindNotFound is terminal and never retried.
	KindNotFound
	// KindCircuitOpen means the breaker refused the attempt.
	KindCircuitOpen
	// KindConfiguration means required provider config is missing or invalid.
	KindConfiguration
	// KindCanceled means the caller's context ended.
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindCircuitOpen:
		return "circuit_open"
	case KindConfiguration:
		return "configuration"
	case KindCanceled:
		return "canceled"
	default:
		return "transient"
	}
}

// Sentinels for errors.Is. Every *Error matches exactly one of them.
var (
	ErrNotFound      = errors.New("credential not found")
	ErrTransient     = errors.New("transient failure")
	ErrCircuitOpen   = errors.New("circuit open")
	ErrConfiguration = errors.New("configuration error")
	ErrCanceled      = errors.New("resolution canceled")
)

// ErrNoProviderConfig is returned by a ConfigStore when a workspace has no
// configuration row for a provider.
var ErrNoProviderConfig = errors.New("provider config not found")

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindCircuitOpen:
		return ErrCircuitOpen
	case KindConfiguration:
		return ErrConfiguration
	case KindCanceled:
		return ErrCanceled
	default:
		return ErrTransient
	}
}

// Error is a typed resolution failure.
type Error struct {
	Kind     Kind
	Mode     Mode
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Op
	if msg == "" {
		msg = e.Kind.sentinel().Error()
	}
	if e.Provider != "" {
		if e.Mode != "" {
			msg = fmt.Sprintf("%s (%s): %s", e.Provider, e.Mode, msg)
		} else {
			msg = fmt.Sprintf("%s: %s", e.Provider, msg)
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// KindOf classifies any error. Context errors are Canceled; errors that are
// not typed are Transient.
func KindOf(err error) Kind {
	var e *Error
	switch {
	case errors.As(err, &e):
		return e.Kind
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	default:
		return KindTransient
	}
}

// MissingField reports a required provider config field that is absent.
func MissingField(field string) error {
	return &Error{
		Kind: KindConfiguration,
		Op:   fmt.Sprintf("missing %s in provider config", field),
	}
}

// NotFound reports a secret that does not exist at its source.
func NotFound(op string, err error) error {
	return &Error{Kind: KindNotFound, Op: op, Err: err}
}

// Configuration reports an invalid provider configuration.
func Configuration(op string, err error) error {
	return &Error{Kind: KindConfiguration, Op: op, Err: err}
}

// classify wraps err with the mode and provider it occurred under, keeping the
// kind of an inner *Error.
func classify(mode Mode, provider, op string, err error) *Error {
	var inner *Error
	if errors.As(err, &inner) {
		out := *inner
		if out.Mode == "" {
			out.Mode = mode
		}
		if out.Provider == "" {
			out.Provider = provider
		}
		return &out
	}
	return &Error{
		Kind:     KindOf(err),
		Mode:     mode,
		Provider: provider,
		Op:       op,
		Err:      err,
	}
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindConfiguration, KindCanceled:
		return false
	default:
		return true
	}
}
