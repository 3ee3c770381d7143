// pkg/forge_err/classification.go
//
// Error classification with exit codes for the bootstrap run.

package forge_err

import (
	"fmt"
	"strings"

	cerr "github.com/cockroachdb/errors"
)

// Exit codes. Each failure class owns its own range so scripts driving
// forge can tell a pre-flight refusal from a half-finished host.
const (
	ExitOK               = 0
	ExitGeneral          = 1
	ExitInternal         = 3
	ExitPrivilege        = 10
	ExitInvalidParameter = 20
	ExitFatalStep        = 30
	ExitOptionalStep     = 40
)

// ErrorCategory classifies errors that have no dedicated type in errors.go.
type ErrorCategory int

const (
	// CategoryValidation - operator input missing or invalid (exit 20)
	CategoryValidation ErrorCategory = iota
	// CategoryInternal - bugs in forge itself (exit 3)
	CategoryInternal
)

// ClassifiedError wraps an error with category and remediation info
type ClassifiedError struct {
	Category    ErrorCategory
	Message     string
	Cause       error
	Remediation []string
}

// Error implements the error interface
func (e *ClassifiedError) Error() string {
	var sb strings.Builder

	sb.WriteString(e.Message)

	if e.Cause != nil && e.Cause.Error() != e.Message {
		sb.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Remediation) > 0 {
		sb.WriteString("\n\nHow to fix:")
		for i, step := range e.Remediation {
			sb.WriteString(fmt.Sprintf("\n  %d. %s", i+1, step))
		}
	}

	return sb.String()
}

// Unwrap returns the underlying error
func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// ExitCode returns the appropriate exit code for this error category
func (e *ClassifiedError) ExitCode() int {
	switch e.Category {
	case CategoryValidation:
		return ExitInvalidParameter
	case CategoryInternal:
		return ExitInternal
	default:
		return ExitGeneral
	}
}

// ExitCode extracts the process exit code from any error.
// Returns 0 for nil and 1 for anything it cannot classify.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	if cerr.Is(err, ErrInsufficientPrivilege) {
		return ExitPrivilege
	}

	var missing *MissingRequiredFieldError
	if cerr.As(err, &missing) {
		return ExitInvalidParameter
	}
	var invalid *InvalidFieldError
	if cerr.As(err, &invalid) {
		return ExitInvalidParameter
	}

	var step *StepFailedError
	if cerr.As(err, &step) {
		if step.Optional {
			return ExitOptionalStep
		}
		return ExitFatalStep
	}

	var classified *ClassifiedError
	if cerr.As(err, &classified) {
		return classified.ExitCode()
	}

	if cerr.IsAssertionFailure(err) {
		return ExitInternal
	}

	return ExitGeneral
}

// NewValidationError creates an error for input validation failures
func NewValidationError(message string, remediation ...string) error {
	return &ClassifiedError{
		Category:    CategoryValidation,
		Message:     message,
		Remediation: remediation,
	}
}

// NewInternalError creates an error for forge bugs
func NewInternalError(message string, cause error) error {
	return &ClassifiedError{
		Category: CategoryInternal,
		Message:  message,
		Cause:    cause,
		Remediation: []string{
			"This is likely a bug in forge",
			"Re-run with --log-level=debug and keep /var/log/forge/forge.log",
		},
	}
}

// IsRetryable determines if an error represents a transient condition
// that might succeed on retry
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var reg *RegistrationError
	if cerr.As(err, &reg) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "could not get lock") ||
		strings.Contains(errStr, "try again") {
		return true
	}

	return false
}
