package backend

import (
	"errors"
	"fmt"

	"github.com/aspects-ai/agent-backend/engine/core"
	"github.com/aspects-ai/agent-backend/engine/safety"
)

// Canonical error codes surfaced by backend operations. Callers branch on
// these instead of matching message text.
const (
	CodePathEscape           = "PATH_ESCAPE_ATTEMPT"
	CodeDangerousOperation   = "DANGEROUS_OPERATION"
	CodeUnsafeCommand        = "UNSAFE_COMMAND"
	CodeEmptyCommand         = "EMPTY_COMMAND"
	CodeTimeout              = "TIMEOUT"
	CodeNotImplemented       = "NOT_IMPLEMENTED"
	CodeExecFailed           = "EXEC_FAILED"
	CodeReadFailed           = "READ_FAILED"
	CodeWriteFailed          = "WRITE_FAILED"
	CodeListFailed           = "LS_FAILED"
	CodeKeyNotFound          = "KEY_NOT_FOUND"
	CodeMissingUtilities     = "MISSING_UTILITIES"
	CodeInvalidConfiguration = "INVALID_CONFIGURATION"
	CodeConnectionClosed     = "CONNECTION_CLOSED"
	CodeBackendDestroyed     = "BACKEND_DESTROYED"
	CodeBackendError         = "BACKEND_ERROR"
)

// ErrPathEscape wraps pathres violations with the canonical code.
func ErrPathEscape(path string, err error) *core.Error {
	if err == nil {
		err = fmt.Errorf("path escapes scope boundary: %s", path)
	}
	return core.NewError(err, CodePathEscape, map[string]any{"path": path})
}

// ErrDangerous reports a command blocked by the danger catalogue, carrying
// the matched category.
func ErrDangerous(command string, category safety.Category, reason string) *core.Error {
	return core.NewError(
		fmt.Errorf("dangerous operation blocked: %s", command),
		CodeDangerousOperation,
		map[string]any{"command": command, "category": string(category), "reason": reason},
	)
}

// ErrUnsafe reports a command blocked by the workspace-escape catalogue.
func ErrUnsafe(command, reason string) *core.Error {
	return core.NewError(
		errors.New(reason),
		CodeUnsafeCommand,
		map[string]any{"command": command},
	)
}

// ErrEmptyCommand rejects blank exec input.
func ErrEmptyCommand() *core.Error {
	return core.NewError(errors.New("command cannot be empty"), CodeEmptyCommand, nil)
}

// ErrTimeout reports an operation that exceeded its deadline. The underlying
// process or session has been terminated by the time this is returned.
func ErrTimeout(operation string, err error) *core.Error {
	if err == nil {
		err = fmt.Errorf("operation timed out: %s", operation)
	}
	return core.NewError(err, CodeTimeout, map[string]any{"operation": operation})
}

// ErrNotImplemented reports a capability this variant does not support.
func ErrNotImplemented(operation string, backendType Type) *core.Error {
	return core.NewError(
		fmt.Errorf("operation %q not implemented for %s backend", operation, backendType),
		CodeNotImplemented,
		map[string]any{"operation": operation, "backend": string(backendType)},
	)
}

// ErrExecFailed wraps a transport-level execution failure.
func ErrExecFailed(command string, err error) *core.Error {
	return core.NewError(
		fmt.Errorf("command execution failed: %w", err),
		CodeExecFailed,
		map[string]any{"command": command},
	)
}

// ErrReadFailed wraps a file read failure.
func ErrReadFailed(path string, err error) *core.Error {
	return core.NewError(
		fmt.Errorf("failed to read %s: %w", path, err),
		CodeReadFailed,
		map[string]any{"path": path},
	)
}

// ErrWriteFailed wraps a file write/modify failure.
func ErrWriteFailed(path string, err error) *core.Error {
	return core.NewError(
		fmt.Errorf("failed to write %s: %w", path, err),
		CodeWriteFailed,
		map[string]any{"path": path},
	)
}

// ErrListFailed wraps a directory listing failure.
func ErrListFailed(path string, err error) *core.Error {
	return core.NewError(
		fmt.Errorf("failed to read directory %s: %w", path, err),
		CodeListFailed,
		map[string]any{"path": path},
	)
}

// ErrKeyNotFound reports a missing key in the in-memory variant.
func ErrKeyNotFound(key, operation string) *core.Error {
	return core.NewError(
		fmt.Errorf("key not found: %s", key),
		CodeKeyNotFound,
		map[string]any{"key": key, "operation": operation},
	)
}

// ErrMissingUtilities reports required host tooling that is not installed.
func ErrMissingUtilities(utility string) *core.Error {
	return core.NewError(
		fmt.Errorf("%s requested but not installed", utility),
		CodeMissingUtilities,
		map[string]any{"utility": utility},
	)
}

// ErrInvalidConfiguration rejects a bad construction-time config.
func ErrInvalidConfiguration(err error) *core.Error {
	return core.NewError(err, CodeInvalidConfiguration, nil)
}

// ErrConnectionClosed reports an operation attempted on a closed transport.
func ErrConnectionClosed(operation string) *core.Error {
	return core.NewError(
		fmt.Errorf("connection closed during %s", operation),
		CodeConnectionClosed,
		map[string]any{"operation": operation},
	)
}

// ErrDestroyed rejects operations once destruction has begun.
func ErrDestroyed(operation string) *core.Error {
	return core.NewError(
		fmt.Errorf("backend destroyed, %s rejected", operation),
		CodeBackendDestroyed,
		map[string]any{"operation": operation},
	)
}

// ErrBackend wraps a generic transport failure.
func ErrBackend(operation string, err error) *core.Error {
	return core.NewError(err, CodeBackendError, map[string]any{"operation": operation})
}
