package models

import (
	"errors"
	"fmt"
)

// Error code prefixes. Every error returned across a component boundary
// carries one stable code so callers can branch without string matching.
const (
	CodeConfigMissingKey    = "E_CONFIG_MISSING_KEY"
	CodeConfigUnknownModule = "E_CONFIG_UNKNOWN_MODULE"
	CodeConfigInvalidPlan   = "E_CONFIG_INVALID_PLAN"
	CodeProvider            = "E_PROVIDER"
	CodeToolUnavailable     = "E_TOOL_UNAVAILABLE"
	CodeToolDenied          = "E_TOOL_DENIED"
	CodeToolMissingDeps     = "E_TOOL_MISSING_DEPS"
	CodeModuleInvalid       = "E_MODULE_INVALID"
	CodeResourceDepth       = "E_RESOURCE_DEPTH"
	CodeResourceFanout      = "E_RESOURCE_FANOUT"
	CodeResourceChildren    = "E_RESOURCE_CHILDREN"
	CodeResourceExhausted   = "E_RESOURCE_EXHAUSTED"
	CodeAbort               = "E_ABORT"
	CodeInternal            = "E_INTERNAL"
)

// CodedError attaches a stable code to an underlying error.
type CodedError struct {
	Code string
	Msg  string
	Err  error
}

func (e *CodedError) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	}
}

func (e *CodedError) Unwrap() error { return e.Err }

// NewError creates a coded error with a formatted message.
func NewError(code, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// WrapError wraps err under a coded error.
func WrapError(code string, err error, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// ErrorCode extracts the code from err, or "" if it carries none.
func ErrorCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
