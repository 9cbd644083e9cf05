package errors

import "net/http"

// Error code constants. Errors carry code + params; messages stay short and
// English-only for logs.

// Command layer error codes.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeUnknownCommand   = "UNKNOWN_COMMAND"
	CodeProcessNotFound  = "PROCESS_NOT_FOUND"
	CodeProcessExists    = "PROCESS_ALREADY_EXISTS"
)

// Registry error codes.
const (
	CodeDuplicateHandler = "DUPLICATE_HANDLER_REGISTRATION"
	CodeRegistryFrozen   = "REGISTRY_FROZEN"
)

// Replay / dispatch error codes.
const (
	CodeReplayCorruption = "REPLAY_CORRUPTION"
	CodeActionTimeout    = "ACTION_TIMEOUT"
	CodeActionPanic      = "ACTION_PANIC"
	CodeForceUnaudited   = "FORCE_REPLAY_UNAUDITED"
)

// Store error codes.
const (
	CodeEventNotFound = "EVENT_NOT_FOUND"
	CodeStoreFailure  = "STORE_FAILURE"
)

// ErrProcessNotFoundf creates a process not found error.
func ErrProcessNotFoundf(processID string) *AppError {
	return &AppError{
		Code:       CodeProcessNotFound,
		Message:    "process not found",
		HTTPStatus: http.StatusNotFound,
		Params:     map[string]interface{}{"process_id": processID},
	}
}

// ErrValidationf creates a validation error with a reason.
func ErrValidationf(reason string) *AppError {
	return &AppError{
		Code:       CodeValidationFailed,
		Message:    reason,
		HTTPStatus: http.StatusBadRequest,
	}
}

// ErrReplayCorruptionf creates a replay corruption error for operators.
func ErrReplayCorruptionf(processID, detail string) *AppError {
	return &AppError{
		Code:       CodeReplayCorruption,
		Message:    "event sequence cannot be replayed: " + detail,
		HTTPStatus: http.StatusUnprocessableEntity,
		Params:     map[string]interface{}{"process_id": processID},
	}
}
