// Package errs holds the failure kinds of the fetch/parse pipeline.
// Each kind maps onto a bucket of a host's exit code specification.
package errs

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindEmptyOutput Kind = "empty_output"
	KindConnection  Kind = "connection"
	KindTimeout     Kind = "timeout"
	KindException   Kind = "exception"
)

// ErrTerminate signals process termination. It is never recorded as a failure.
var ErrTerminate = errors.New("terminated")

// ConfigurationError is fatal and never recovered.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Msg }

func Configuration(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// TransportError is raised by fetchers when the data source cannot be reached.
type TransportError struct {
	Msg string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Msg, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func Transport(err error, format string, args ...any) error {
	return &TransportError{Msg: fmt.Sprintf(format, args...), Err: err}
}

// EmptyDataError means the transport succeeded but delivered nothing.
type EmptyDataError struct {
	Msg string
}

func (e *EmptyDataError) Error() string { return e.Msg }

type TimeoutError struct {
	Msg string
}

func (e *TimeoutError) Error() string { return e.Msg }

// ParseError wraps an error returned by a section parse function.
type ParseError struct {
	Section string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing section %q: %s", e.Section, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsTerminate reports whether err must be propagated without being recorded.
func IsTerminate(err error) bool {
	return errors.Is(err, ErrTerminate) || errors.Is(err, context.Canceled)
}

func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// KindOf returns the exit code bucket of err.
func KindOf(err error) Kind {
	var (
		empty     *EmptyDataError
		transport *TransportError
		timeout   *TimeoutError
	)
	switch {
	case errors.As(err, &empty):
		return KindEmptyOutput
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &transport):
		return KindConnection
	default:
		return KindException
	}
}
