package model

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

// ErrorKind classifies launcher failures. Every kind is fatal: nothing is
// retried, the error unwinds to the process entry point which exits with
// ExitFailure.
type ErrorKind int

const (
	// KindLocationResolution means the launcher could not determine the
	// path of its own bundle.
	KindLocationResolution ErrorKind = iota + 1

	// KindArchiveDiscovery means the directory next to the bundle could
	// not be listed.
	KindArchiveDiscovery

	// KindEngineNotFound means no registered engine matches what the
	// runtime archives declare (missing declaration, unknown engine name,
	// or unsupported API version).
	KindEngineNotFound

	// KindEngineInvocation covers loading the archives, configuring the
	// engine and evaluating the bootstrap scriptlet.
	KindEngineInvocation

	// KindConfiguration means the launcher's environment variables could
	// not be read.
	KindConfiguration
)

// String returns the name of the kind as used in error messages.
func (k ErrorKind) String() string {
	switch k {
	case KindLocationResolution:
		return "location resolution"
	case KindArchiveDiscovery:
		return "archive discovery"
	case KindEngineNotFound:
		return "engine not found"
	case KindEngineInvocation:
		return "engine invocation"
	case KindConfiguration:
		return "configuration"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// LaunchError is the error type returned by every launcher stage.
// It carries the failure kind so callers and tests can branch on it without
// string matching.
type LaunchError struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *LaunchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *LaunchError) Unwrap() error {
	return e.Err
}

// NewLaunchError creates a LaunchError without an underlying cause.
func NewLaunchError(kind ErrorKind, message string) *LaunchError {
	return &LaunchError{Kind: kind, Message: message}
}

// WrapLaunchError creates a LaunchError that wraps an existing error.
func WrapLaunchError(kind ErrorKind, message string, err error) *LaunchError {
	return &LaunchError{Kind: kind, Message: message, Err: err}
}

// IsKind reports whether any LaunchError in err's chain has the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var launchErr *LaunchError
	for err != nil {
		if !errors.As(err, &launchErr) {
			return false
		}
		if launchErr.Kind == kind {
			return true
		}
		err = launchErr.Err
	}
	return false
}

// ExitStatusError reports that the bootstrap finished normally but the script
// asked for a non-zero exit status. It is not a failure: the CLI forwards
// Status as the process exit code without printing anything.
type ExitStatusError struct {
	Status int
}

// Error satisfies the error interface.
func (e *ExitStatusError) Error() string {
	return fmt.Sprintf("script exited with status %d", e.Status)
}

// RootCause walks err's chain and returns the deepest cause.
//
// Both Unwrap and the older Cause convention are followed. The walk stops
// when an error returns itself as its cause, or when it reaches an error it
// has already visited, so pathological chains cannot loop forever; the
// error at which the walk stopped is returned. Chains of non-comparable
// values cannot be checked by identity and are cut at maxCauseDepth.
func RootCause(err error) error {
	chain := causeChain(err)
	if len(chain) == 0 {
		return nil
	}
	return chain[len(chain)-1]
}

// TracedCause returns the deepest error in err's chain that records a stack
// trace, as pkg/errors does. Printed with %+v it shows the message of every
// cause below it and the stack where it was created. When no error in the
// chain has a stack, TracedCause is RootCause.
//
// The walk follows the same rules as RootCause.
func TracedCause(err error) error {
	chain := causeChain(err)
	for i := len(chain) - 1; i >= 0; i-- {
		if _, ok := chain[i].(stackTracer); ok {
			return chain[i]
		}
	}
	if len(chain) == 0 {
		return nil
	}
	return chain[len(chain)-1]
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// causeChain returns err followed by each of its causes, outermost first.
func causeChain(err error) []error {
	if err == nil {
		return nil
	}
	chain := []error{err}
	current := err
	for len(chain) < maxCauseDepth {
		next := causeOf(current)
		if next == nil {
			return chain
		}
		for _, seen := range chain {
			if sameError(seen, next) {
				return chain
			}
		}
		chain = append(chain, next)
		current = next
	}
	return chain
}

const maxCauseDepth = 256

// causeOf returns the immediate cause of err, or nil.
func causeOf(err error) error {
	switch e := err.(type) {
	case interface{ Unwrap() error }:
		return e.Unwrap()
	case interface{ Unwrap() []error }:
		if errs := e.Unwrap(); len(errs) > 0 {
			return errs[0]
		}
		return nil
	case interface{ Cause() error }:
		return e.Cause()
	default:
		return nil
	}
}

// sameError compares two errors by identity. Values of non-comparable
// dynamic types would panic under ==, so they are never considered equal.
func sameError(a, b error) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
