// Package errors provides custom error types and exit codes for certbake.
package errors

import (
	"errors"
	"fmt"
)

// BakeError is a custom error type that provides context about operations.
type BakeError struct {
	Op   string // Operation being performed (e.g., "parse certificates", "fetch source")
	Path string // File, URL or target involved
	Err  error  // Underlying error
}

// Error implements the error interface.
func (e *BakeError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *BakeError) Unwrap() error {
	return e.Err
}

// Error classes. Every error produced by certbake wraps at most one of these.
var (
	ErrDependencyMissing = errors.New("required dependency is not available")
	ErrRetrievalFailed   = errors.New("certificate retrieval failed")
	ErrMalformedInput    = errors.New("malformed certificate input")
	ErrConfig            = errors.New("invalid configuration")
)

// Predefined malformed-input errors. They wrap ErrMalformedInput.
var (
	ErrEmptyInput          = fmt.Errorf("%w: input is empty", ErrMalformedInput)
	ErrNoCertificate       = fmt.Errorf("%w: no certificate found", ErrMalformedInput)
	ErrUnterminatedBlock   = fmt.Errorf("%w: unterminated certificate block", ErrMalformedInput)
	ErrNestedBlock         = fmt.Errorf("%w: nested certificate block", ErrMalformedInput)
	ErrUnexpectedEnd       = fmt.Errorf("%w: end marker without begin marker", ErrMalformedInput)
	ErrTooManyCertificates = fmt.Errorf("%w: too many certificates", ErrMalformedInput)
	ErrFieldTooLong        = fmt.Errorf("%w: field exceeds 65535 bytes", ErrMalformedInput)
	ErrMissingField        = fmt.Errorf("%w: certificate is missing a required field", ErrMalformedInput)
)

// Exit codes - use these constants in CLI commands instead of hardcoding values.
const (
	ExitSuccess           = 0 // Success, including "already up to date"
	ExitGeneralError      = 1 // General error (file I/O, permissions)
	ExitConfigError       = 2 // Configuration error (invalid config, missing values)
	ExitMalformedInput    = 3 // Certificate input failed to parse or was empty
	ExitRetrievalError    = 4 // Fetch failed and no previous artifact exists
	ExitDependencyMissing = 5 // External tool or capability unavailable
)

// IsError checks if the given error matches the target error using errors.Is.
func IsError(err, target error) bool {
	return errors.Is(err, target)
}

// ExitCode maps an error to the process exit status for its class. For an
// error joining several failures, such as one per target, the first failure
// that belongs to a class decides.
func ExitCode(err error) int {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if e == nil {
				continue
			}
			if code := ExitCode(e); code != ExitGeneralError {
				return code
			}
		}
		return ExitGeneralError
	}

	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, ErrConfig):
		return ExitConfigError
	case errors.Is(err, ErrMalformedInput):
		return ExitMalformedInput
	case errors.Is(err, ErrRetrievalFailed):
		return ExitRetrievalError
	case errors.Is(err, ErrDependencyMissing):
		return ExitDependencyMissing
	default:
		return ExitGeneralError
	}
}

// Malformed wraps err as a malformed-input error for the given operation and path.
// If err already belongs to the malformed-input class it is kept as is.
func Malformed(op, path string, err error) error {
	if !errors.Is(err, ErrMalformedInput) {
		err = fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	return &BakeError{Op: op, Path: path, Err: err}
}

// Retrieval wraps err as a retrieval failure for the given operation and source.
func Retrieval(op, source string, err error) error {
	if !errors.Is(err, ErrRetrievalFailed) {
		err = fmt.Errorf("%w: %w", ErrRetrievalFailed, err)
	}
	return &BakeError{Op: op, Path: source, Err: err}
}

// Dependency reports a missing external capability.
func Dependency(name string, err error) error {
	if err == nil {
		return &BakeError{Op: "locate dependency", Path: name, Err: ErrDependencyMissing}
	}
	return &BakeError{Op: "locate dependency", Path: name, Err: fmt.Errorf("%w: %w", ErrDependencyMissing, err)}
}
