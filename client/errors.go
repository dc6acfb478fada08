package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"
)

// ConnectionError is returned when a connection could not be established
// after exhausting every retry attempt, or when the pool refuses to hand one out.
type ConnectionError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Attempts   int                    `json:"attempts,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StackTrace []string               `json:"stack_trace,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
// When debugMode=false: returns simple "CODE: message" format.
// When debugMode=true: returns indented JSON with details and stack trace.
func (e *ConnectionError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (caused by: %s)", e.Code, e.Message, e.Cause.Error())
		}
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	data := map[string]interface{}{
		"code":    e.Code,
		"type":    "CONNECTION_ERROR",
		"message": e.Message,
	}
	if e.Attempts > 0 {
		data["attempts"] = e.Attempts
	}
	return debugJSON(data, e.Details, e.Cause, e.StackTrace, e.Timestamp)
}

// Unwrap returns the underlying cause error for errors.Is and errors.As compatibility.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// QueryExecutionError wraps any failure that happens while a statement is
// being executed, including hook failures around the execution. The SQL text
// and parameters are attached for diagnosability.
type QueryExecutionError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Query      string                 `json:"query,omitempty"`
	Params     []interface{}          `json:"params,omitempty"`
	TraceID    string                 `json:"trace_id,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StackTrace []string               `json:"stack_trace,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Error implements the error interface.
func (e *QueryExecutionError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
func (e *QueryExecutionError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s [%s] (caused by: %s)", e.Code, e.Message, e.Query, e.Cause.Error())
		}
		return fmt.Sprintf("%s: %s [%s]", e.Code, e.Message, e.Query)
	}

	data := map[string]interface{}{
		"code":    e.Code,
		"type":    "QUERY_EXECUTION_ERROR",
		"message": e.Message,
		"query":   e.Query,
	}
	if len(e.Params) > 0 {
		data["params"] = e.Params
	}
	if e.TraceID != "" {
		data["trace_id"] = e.TraceID
	}
	return debugJSON(data, e.Details, e.Cause, e.StackTrace, e.Timestamp)
}

// Unwrap returns the underlying cause error.
func (e *QueryExecutionError) Unwrap() error {
	return e.Cause
}

// TransactionError reports a failure inside a transaction scope. When the
// failure came from the caller's callback, Cause is that original error.
type TransactionError struct {
	Code          string                 `json:"code"`
	Message       string                 `json:"message"`
	TransactionID string                 `json:"transaction_id,omitempty"`
	State         string                 `json:"state,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
	Cause         error                  `json:"-"`
	StackTrace    []string               `json:"stack_trace,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// Error implements the error interface.
func (e *TransactionError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
func (e *TransactionError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (TX: %s, caused by: %s)", e.Code, e.Message, e.TransactionID, e.Cause.Error())
		}
		return fmt.Sprintf("%s: %s (TX: %s)", e.Code, e.Message, e.TransactionID)
	}

	data := map[string]interface{}{
		"code":    e.Code,
		"type":    "TRANSACTION_ERROR",
		"message": e.Message,
	}
	if e.TransactionID != "" {
		data["transaction_id"] = e.TransactionID
	}
	if e.State != "" {
		data["state"] = e.State
	}
	return debugJSON(data, e.Details, e.Cause, e.StackTrace, e.Timestamp)
}

// Unwrap returns the underlying cause error.
func (e *TransactionError) Unwrap() error {
	return e.Cause
}

// ValidationError is returned before any network round-trip when the input
// to an operation is unusable.
type ValidationError struct {
	Code    string                 `json:"code"`
	Field   string                 `json:"field,omitempty"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
func (e *ValidationError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.Field != "" {
			return fmt.Sprintf("%s: %s (field: %s)", e.Code, e.Message, e.Field)
		}
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	data := map[string]interface{}{
		"code":    e.Code,
		"type":    "VALIDATION_ERROR",
		"message": e.Message,
	}
	if e.Field != "" {
		data["field"] = e.Field
	}
	return debugJSON(data, e.Details, nil, nil, time.Time{})
}

// InvalidHookStageError is returned synchronously when a hook is registered
// against a stage that does not exist.
type InvalidHookStageError struct {
	Stage Stage
}

// Error implements the error interface.
func (e *InvalidHookStageError) Error() string {
	return fmt.Sprintf("E_INVALID_HOOK_STAGE: unknown hook stage %q (valid: %v)", string(e.Stage), Stages())
}

// newValidationError builds a ValidationError.
func newValidationError(code, field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Code:    code,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// ErrPoolExhausted is returned when every pooled connection is busy and the
// pool is configured not to wait.
func ErrPoolExhausted(maxOpen int) *ConnectionError {
	return &ConnectionError{
		Code:       "E_POOL_EXHAUSTED",
		Message:    fmt.Sprintf("all %d connections are in use and waiting is disabled", maxOpen),
		Details:    map[string]interface{}{"max_open": maxOpen},
		StackTrace: captureStackTrace(),
		Timestamp:  time.Now(),
	}
}

// ErrQueueFull is returned when the number of callers waiting for a
// connection has reached the configured queue limit.
func ErrQueueFull(limit int) *ConnectionError {
	return &ConnectionError{
		Code:       "E_POOL_QUEUE_FULL",
		Message:    fmt.Sprintf("connection queue limit of %d reached", limit),
		Details:    map[string]interface{}{"queue_limit": limit},
		StackTrace: captureStackTrace(),
		Timestamp:  time.Now(),
	}
}

// ErrPoolClosed is returned when acquiring from a closed pool.
func ErrPoolClosed() *ConnectionError {
	return &ConnectionError{
		Code:      "E_POOL_CLOSED",
		Message:   "connection pool is closed",
		Timestamp: time.Now(),
	}
}

// ErrTransactionNotActive is returned when a statement, commit or rollback is
// attempted on a transaction that already reached a terminal state.
func ErrTransactionNotActive(id string, state TxState) *TransactionError {
	return &TransactionError{
		Code:          "E_TX_NOT_ACTIVE",
		Message:       fmt.Sprintf("transaction is %s", state),
		TransactionID: id,
		State:         state.String(),
		StackTrace:    captureStackTrace(),
		Timestamp:     time.Now(),
	}
}

// IsValidationError reports whether err is, or wraps, a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// debugJSON renders the shared debug representation used by every error type.
func debugJSON(data, details map[string]interface{}, cause error, stack []string, ts time.Time) string {
	if len(details) > 0 {
		data["details"] = details
	}
	if cause != nil {
		data["cause"] = map[string]interface{}{"message": cause.Error()}
	}
	if len(stack) > 0 {
		data["stack_trace"] = stack
	}
	if !ts.IsZero() {
		data["timestamp"] = ts.Format(time.RFC3339Nano)
	}

	b, _ := json.MarshalIndent(data, "", "  ")
	return string(b)
}

// captureStackTrace captures the current stack trace for error reporting.
func captureStackTrace() []string {
	const maxDepth = 32
	pcs := make([]uintptr, maxDepth)
	n := runtime.Callers(3, pcs) // skip runtime.Callers, captureStackTrace and the constructor

	frames := make([]string, 0, n)
	callersFrames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := callersFrames.Next()
		frames = append(frames, fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line))
		if !more {
			break
		}
	}
	return frames
}

// FormatError is a helper to format any error with debug mode support.
func FormatError(err error, debugMode bool) string {
	if err == nil {
		return ""
	}

	type debugFormatter interface {
		FormatError(bool) string
	}

	if formatter, ok := err.(debugFormatter); ok {
		return formatter.FormatError(debugMode)
	}
	return err.Error()
}
