package cli

import (
	"errors"
	"fmt"
	"strings"

	werrors "github.com/daglabs/ticketwright/internal/errors"
)

// CLIError is an error with an exit code and optional suggestion, for
// errors raised directly by CLI commands. Errors surfaced from the
// shared errors package keep their own kind-derived exit codes; ExitCode
// and FormatErrorMessage handle both.
type CLIError struct {
	Code       int
	Message    string
	Cause      error
	Suggestion string
}

func (e *CLIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *CLIError) Unwrap() error {
	return e.Cause
}

// FormatError returns the error message with suggestion if present
func (e *CLIError) FormatError() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.Error())
	if e.Suggestion != "" {
		b.WriteString("\n\nSuggestion: ")
		b.WriteString(e.Suggestion)
	}
	return b.String()
}

// ExitCode returns the exit code for any error.
// Supports both CLIError and the shared errors.Error type.
func ExitCode(err error) int {
	// Check for shared error type first
	var sharedErr *werrors.Error
	if errors.As(err, &sharedErr) {
		return sharedErr.CLIExitCode()
	}

	// Fall back to CLIError
	var werr *CLIError
	if errors.As(err, &werr) {
		return werr.Code
	}
	return ExitGeneralError
}

// FormatErrorMessage returns formatted error with suggestion if available.
// Supports both CLIError and the shared errors.Error type.
func FormatErrorMessage(err error) string {
	// Check for shared error type first
	var sharedErr *werrors.Error
	if errors.As(err, &sharedErr) {
		var b strings.Builder
		b.WriteString("Error: ")
		b.WriteString(sharedErr.Error())
		if sharedErr.Suggestion != "" {
			b.WriteString("\n\nSuggestion: ")
			b.WriteString(sharedErr.Suggestion)
		}
		return b.String()
	}

	// Fall back to CLIError
	var werr *CLIError
	if errors.As(err, &werr) {
		return werr.FormatError()
	}
	return "Error: " + err.Error()
}

// Error constructors with proper exit codes

// ErrInvalidArgs creates an error for invalid arguments (exit code 2)
func ErrInvalidArgs(format string, args ...interface{}) error {
	return &CLIError{
		Code:    ExitInvalidArgs,
		Message: fmt.Sprintf(format, args...),
	}
}

// ErrInvalidArgsWithSuggestion creates an error for invalid arguments with a suggestion
func ErrInvalidArgsWithSuggestion(suggestion, format string, args ...interface{}) error {
	return &CLIError{
		Code:       ExitInvalidArgs,
		Message:    fmt.Sprintf(format, args...),
		Suggestion: suggestion,
	}
}

// ErrNotFound creates an error for missing resources (exit code 3)
func ErrNotFound(format string, args ...interface{}) error {
	return &CLIError{
		Code:    ExitNotFound,
		Message: fmt.Sprintf(format, args...),
	}
}

// ErrNotFoundWithSuggestion creates a not found error with a suggestion
func ErrNotFoundWithSuggestion(suggestion, format string, args ...interface{}) error {
	return &CLIError{
		Code:       ExitNotFound,
		Message:    fmt.Sprintf(format, args...),
		Suggestion: suggestion,
	}
}

// ErrStateError creates an error for invalid state transitions (exit code 4)
func ErrStateError(format string, args ...interface{}) error {
	return &CLIError{
		Code:    ExitStateError,
		Message: fmt.Sprintf(format, args...),
	}
}

// ErrStateErrorWithSuggestion creates a state error with a suggestion
func ErrStateErrorWithSuggestion(suggestion, format string, args ...interface{}) error {
	return &CLIError{
		Code:       ExitStateError,
		Message:    fmt.Sprintf(format, args...),
		Suggestion: suggestion,
	}
}

// ErrDatabase creates an error for database operations (exit code 5)
func ErrDatabase(cause error, format string, args ...interface{}) error {
	return &CLIError{
		Code:    ExitDBError,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// ErrDatabaseWithSuggestion creates a database error with a suggestion
func ErrDatabaseWithSuggestion(cause error, suggestion, format string, args ...interface{}) error {
	return &CLIError{
		Code:       ExitDBError,
		Message:    fmt.Sprintf(format, args...),
		Cause:      cause,
		Suggestion: suggestion,
	}
}

// ErrConcurrentConflict creates an error for concurrent modification (exit code 6)
func ErrConcurrentConflict(format string, args ...interface{}) error {
	return &CLIError{
		Code:    ExitConcurrentConflict,
		Message: fmt.Sprintf(format, args...),
	}
}

// ErrConcurrentConflictWithSuggestion creates a conflict error with a suggestion
func ErrConcurrentConflictWithSuggestion(suggestion, format string, args ...interface{}) error {
	return &CLIError{
		Code:       ExitConcurrentConflict,
		Message:    fmt.Sprintf(format, args...),
		Suggestion: suggestion,
	}
}

// ErrGeneral creates a general error (exit code 1)
func ErrGeneral(format string, args ...interface{}) error {
	return &CLIError{
		Code:    ExitGeneralError,
		Message: fmt.Sprintf(format, args...),
	}
}

// ErrGeneralWithCause creates a general error with a cause
func ErrGeneralWithCause(cause error, format string, args ...interface{}) error {
	return &CLIError{
		Code:    ExitGeneralError,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// WrapWithCode wraps an existing error with a specific exit code
func WrapWithCode(code int, err error, format string, args ...interface{}) error {
	return &CLIError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// Common suggestions
const (
	SuggestRunInit        = "Run 'ticketwright init' to create a new database."
	SuggestCheckTicketKey = "Check the ticket key format. It should be like TKT-a1b2c3d4."
	SuggestListProjects   = "Run 'ticketwright project list' to see available projects."
	SuggestListTickets    = "Run 'ticketwright ticket list' to see available tickets."
	SuggestCheckStatus    = "Run 'ticketwright ticket show %s' to check the ticket's current status."
	SuggestReleaseClaim   = "The ticket may be claimed by another worker. Run 'ticketwright claim list' to see."
	SuggestWaitOrRetry    = "Wait for the current operation to complete, or try again."
)
