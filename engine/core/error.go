package core

import (
	"errors"
	"fmt"
)

// Error is the canonical error envelope for backend operations. It pairs an
// underlying error with a stable machine-readable code so callers can branch
// on failure kind without string matching.
type Error struct {
	err     error
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// NewError wraps err with a canonical code and optional structured details.
func NewError(err error, code string, details map[string]any) *Error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &Error{err: err, Code: code, Message: message, Details: details}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

// CodeOf extracts the canonical code from err, unwrapping as needed.
// It returns an empty string when err carries no code.
func CodeOf(err error) string {
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return coreErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given canonical code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}
