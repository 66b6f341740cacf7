// Package errors provides shared error types that map to both CLI exit codes
// and HTTP status codes, enabling consistent error handling across the CLI,
// the worker-facing API, and the worker runtime itself.
package errors

import (
	"fmt"
	"net/http"
)

// Kind represents the category of an error, which determines both the
// CLI exit code and HTTP status code.
type Kind int

const (
	// KindInvalidArgs represents invalid input arguments.
	// CLI exit code: 2, HTTP status: 400 Bad Request
	KindInvalidArgs Kind = iota

	// KindNotFound represents a missing resource.
	// CLI exit code: 3, HTTP status: 404 Not Found
	KindNotFound

	// KindStateError represents an invalid state transition request.
	// CLI exit code: 4, HTTP status: 422 Unprocessable Entity
	KindStateError

	// KindConcurrentConflict represents a generic concurrent modification conflict.
	// CLI exit code: 6, HTTP status: 409 Conflict
	KindConcurrentConflict

	// KindInternal represents an internal/database error.
	// CLI exit code: 5, HTTP status: 500 Internal Server Error
	KindInternal

	// KindGeneral represents a general error that doesn't fit other categories.
	// CLI exit code: 1, HTTP status: 500 Internal Server Error
	KindGeneral

	// KindStaleClaim: the claim token presented no longer matches the active claim.
	// CLI exit code: 6, HTTP status: 409 Conflict
	KindStaleClaim

	// KindStaleState: a compare-and-swap transition lost a race on ticket status.
	// CLI exit code: 6, HTTP status: 409 Conflict
	KindStaleState

	// KindPatchFailed: neither exact nor fuzzy search/replace matched.
	// CLI exit code: 7, HTTP status: 422 Unprocessable Entity
	KindPatchFailed

	// KindValidationFailed: the validator ladder rejected a candidate.
	// CLI exit code: 7, HTTP status: 422 Unprocessable Entity
	KindValidationFailed

	// KindBlocked: the model declared the ticket BLOCKED; non-retryable.
	// CLI exit code: 8, HTTP status: 422 Unprocessable Entity
	KindBlocked

	// KindEmptyCommit: a candidate produced no diff against the workspace.
	// CLI exit code: 7, HTTP status: 422 Unprocessable Entity
	KindEmptyCommit

	// KindAPIError: the upstream LLM or GitHub API returned a retryable error.
	// CLI exit code: 9, HTTP status: 502 Bad Gateway
	KindAPIError

	// KindNetworkError: a transport-level failure reaching an external service.
	// CLI exit code: 9, HTTP status: 503 Service Unavailable
	KindNetworkError

	// KindGitError: a git plumbing operation failed.
	// CLI exit code: 10, HTTP status: 500 Internal Server Error
	KindGitError

	// KindHeartbeatLost: a claim expired because heartbeats stopped arriving.
	// CLI exit code: 6, HTTP status: 409 Conflict
	KindHeartbeatLost

	// KindQuarantineCap: attempts exhausted, ticket moved to quarantined.
	// CLI exit code: 8, HTTP status: 422 Unprocessable Entity
	KindQuarantineCap

	// KindUnauthorized: the caller's X-Agent-Key header was missing or wrong.
	// CLI exit code: 11, HTTP status: 401 Unauthorized
	KindUnauthorized
)

// String returns a human-readable name for the error kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidArgs:
		return "InvalidArgs"
	case KindNotFound:
		return "NotFound"
	case KindStateError:
		return "StateError"
	case KindConcurrentConflict:
		return "ConcurrentConflict"
	case KindInternal:
		return "Internal"
	case KindGeneral:
		return "General"
	case KindStaleClaim:
		return "StaleClaim"
	case KindStaleState:
		return "StaleState"
	case KindPatchFailed:
		return "PatchFailed"
	case KindValidationFailed:
		return "ValidationFailed"
	case KindBlocked:
		return "Blocked"
	case KindEmptyCommit:
		return "EmptyCommit"
	case KindAPIError:
		return "ApiError"
	case KindNetworkError:
		return "NetworkError"
	case KindGitError:
		return "GitError"
	case KindHeartbeatLost:
		return "HeartbeatLost"
	case KindQuarantineCap:
		return "QuarantineCap"
	case KindUnauthorized:
		return "Unauthorized"
	default:
		return "Unknown"
	}
}

// Retryable reports whether a failure of this kind should be retried by the
// worker loop rather than escalated or quarantined immediately.
func (k Kind) Retryable() bool {
	switch k {
	case KindAPIError, KindNetworkError, KindPatchFailed, KindValidationFailed, KindEmptyCommit:
		return true
	default:
		return false
	}
}

// Error represents a structured error with kind, message, cause, and optional details.
type Error struct {
	Kind       Kind
	Message    string
	Cause      error
	Details    map[string]interface{}
	Suggestion string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// CLIExitCode returns the appropriate CLI exit code for this error.
func (e *Error) CLIExitCode() int {
	switch e.Kind {
	case KindInvalidArgs:
		return 2
	case KindNotFound:
		return 3
	case KindStateError:
		return 4
	case KindInternal:
		return 5
	case KindConcurrentConflict, KindStaleClaim, KindStaleState, KindHeartbeatLost:
		return 6
	case KindPatchFailed, KindValidationFailed, KindEmptyCommit:
		return 7
	case KindBlocked, KindQuarantineCap:
		return 8
	case KindAPIError, KindNetworkError:
		return 9
	case KindGitError:
		return 10
	case KindUnauthorized:
		return 11
	case KindGeneral:
		return 1
	default:
		return 1
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidArgs:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindStateError, KindPatchFailed, KindValidationFailed, KindBlocked, KindEmptyCommit, KindQuarantineCap:
		return http.StatusUnprocessableEntity
	case KindConcurrentConflict, KindStaleClaim, KindStaleState, KindHeartbeatLost:
		return http.StatusConflict
	case KindAPIError:
		return http.StatusBadGateway
	case KindNetworkError:
		return http.StatusServiceUnavailable
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindInternal, KindGitError, KindGeneral:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WithDetails adds details to the error and returns it for chaining.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds a suggestion to the error and returns it for chaining.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// Constructor functions

func NotFound(resource, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

func InvalidArgs(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidArgs, Message: fmt.Sprintf(format, args...)}
}

func StateError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindStateError, Message: fmt.Sprintf(format, args...)}
}

func ConcurrentConflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConcurrentConflict, Message: fmt.Sprintf(format, args...)}
}

func Internal(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...)}
}

func General(format string, args ...interface{}) *Error {
	return &Error{Kind: KindGeneral, Message: fmt.Sprintf(format, args...)}
}

// StaleClaim creates an error for a claim token that no longer matches the
// active claim held on a ticket.
func StaleClaim(ticketKey string) *Error {
	return &Error{
		Kind:    KindStaleClaim,
		Message: fmt.Sprintf("claim token for ticket %s is stale or no longer active", ticketKey),
	}
}

// StaleState creates an error for a failed compare-and-swap transition.
func StaleState(expected, actual string) *Error {
	return &Error{
		Kind:    KindStaleState,
		Message: fmt.Sprintf("expected ticket status %s but found %s", expected, actual),
	}
}

func PatchFailed(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPatchFailed, Message: fmt.Sprintf(format, args...)}
}

func ValidationFailed(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidationFailed, Message: fmt.Sprintf(format, args...)}
}

func Blocked(reason string) *Error {
	return &Error{Kind: KindBlocked, Message: reason}
}

func EmptyCommit(ticketKey string) *Error {
	return &Error{Kind: KindEmptyCommit, Message: fmt.Sprintf("attempt for %s produced no changes", ticketKey)}
}

func APIError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindAPIError, Message: fmt.Sprintf(format, args...)}
}

func NetworkError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNetworkError, Message: fmt.Sprintf(format, args...)}
}

func GitError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindGitError, Message: fmt.Sprintf(format, args...)}
}

func HeartbeatLost(ticketKey string) *Error {
	return &Error{Kind: KindHeartbeatLost, Message: fmt.Sprintf("heartbeat lost for ticket %s, claim expired", ticketKey)}
}

// Unauthorized creates an error for a request missing or presenting the
// wrong shared X-Agent-Key.
func Unauthorized(format string, args ...interface{}) *Error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func QuarantineCap(ticketKey string, attempts, max int) *Error {
	return &Error{
		Kind:    KindQuarantineCap,
		Message: fmt.Sprintf("ticket %s exhausted its attempt budget (%d/%d)", ticketKey, attempts, max),
	}
}

// Wrap wraps an existing error with a specific kind and message.
func Wrap(err error, kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// WrapInternal wraps an error as an internal error.
func WrapInternal(err error, format string, args ...interface{}) *Error {
	return Wrap(err, KindInternal, format, args...)
}

// Helper functions for extracting error information

func GetKind(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindGeneral
}

func GetCLIExitCode(err error) int {
	if e, ok := err.(*Error); ok {
		return e.CLIExitCode()
	}
	return 1
}

func GetHTTPStatus(err error) int {
	if e, ok := err.(*Error); ok {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func Is(err error, kind Kind) bool {
	if e, ok := err.(*Error); ok {
		return e.Kind == kind
	}
	return false
}
