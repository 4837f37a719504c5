// internal/agent/errors.go
package agent

// ErrorCode is a string type used for structured error reporting from the tool
// dispatcher. Using a custom type ensures that only predefined constants can be
// used where an ErrorCode is expected.
type ErrorCode string

const (
	// -- General Execution Errors --
	ErrCodeExecutionFailure  ErrorCode = "EXECUTION_FAILURE"
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	ErrCodeUnknownTool       ErrorCode = "UNKNOWN_TOOL"
	ErrCodeTimeoutError      ErrorCode = "TIMEOUT_ERROR"

	// -- Internal System Errors --
	ErrCodeExecutorPanic ErrorCode = "EXECUTOR_PANIC"
)

// paramError marks a tool argument problem so the dispatcher can classify it
// as INVALID_PARAMETERS.
type paramError struct {
	msg string
}

func (e *paramError) Error() string { return e.msg }
