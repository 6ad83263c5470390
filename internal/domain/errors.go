package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrSoftwareNotFound is returned when no install entry is registered
	// for a software name
	ErrSoftwareNotFound = errors.New("no install entry registered for software")

	// ErrMachineNotFound is returned when a machine name cannot be resolved
	// against the registry
	ErrMachineNotFound = errors.New("machine not found in registry")
)

// ErrorKind tags an error with its place in the failure taxonomy so batch
// processing can branch on kind without unwinding across job boundaries.
type ErrorKind string

const (
	// KindConfiguration: required coordinates missing, fatal at startup
	KindConfiguration ErrorKind = "configuration"
	// KindDiscoveryUnavailable: registry/inventory query exhausted retries,
	// fatal for that discovery cycle only
	KindDiscoveryUnavailable ErrorKind = "discovery_unavailable"
	// KindResolution: machine name or software name could not be resolved,
	// fatal to the one affected job
	KindResolution ErrorKind = "resolution"
	// KindSubmission: remote channel rejected the command, fatal to the one
	// job, no retry
	KindSubmission ErrorKind = "submission"
	// KindUnknown is reported by KindOf for untagged errors
	KindUnknown ErrorKind = "unknown"
)

// Error carries an ErrorKind alongside the wrapped cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and the operation that produced it.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is NewError with fmt.Errorf formatting for the cause.
func Errorf(kind ErrorKind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the ErrorKind from err or any error it wraps.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}
