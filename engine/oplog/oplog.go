// Package oplog defines the immutable operation log entry produced by
// backends and the logger capability that consumes it. Logging is
// fire-and-forget: backends never block on, or fail because of, a sink.
package oplog

import (
	"time"

	"github.com/google/uuid"
)

// Operation identifies the kind of backend operation being logged.
type Operation string

const (
	OpExec   Operation = "exec"
	OpRead   Operation = "read"
	OpWrite  Operation = "write"
	OpList   Operation = "readdir"
	OpMkdir  Operation = "mkdir"
	OpTouch  Operation = "touch"
	OpExists Operation = "exists"
	OpStat   Operation = "stat"
	OpRename Operation = "rename"
	OpRemove Operation = "rm"
)

// modifyingOperations are the kinds logged in standard mode.
var modifyingOperations = map[Operation]struct{}{
	OpExec:   {},
	OpWrite:  {},
	OpTouch:  {},
	OpMkdir:  {},
	OpRename: {},
	OpRemove: {},
}

// Mode selects which operations a logger wants to see.
type Mode string

const (
	// ModeStandard logs only operations that modify the workspace.
	ModeStandard Mode = "standard"
	// ModeVerbose logs every operation, reads included.
	ModeVerbose Mode = "verbose"
)

// Entry is an immutable record of one completed operation.
type Entry struct {
	ID            string
	Timestamp     time.Time
	Operation     Operation
	UserID        string
	WorkspaceName string
	WorkspacePath string
	Command       string
	Success       bool
	Duration      time.Duration
	Stdout        string
	Stderr        string
	ExitCode      int
	Error         string
}

// NewEntry stamps a fresh entry with an ID and timestamp.
func NewEntry(op Operation, command string) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Operation: op,
		Command:   command,
	}
}

// Logger is the capability backends call once per completed operation.
type Logger interface {
	Mode() Mode
	Log(entry Entry)
}

// Emit forwards the entry to the logger when the logger's mode wants it.
// A nil logger is a no-op, so call sites need no guards.
func Emit(l Logger, entry Entry) {
	if l == nil || !ShouldLog(entry.Operation, l.Mode()) {
		return
	}
	l.Log(entry)
}

// ShouldLog reports whether an operation is logged under the given mode.
func ShouldLog(op Operation, mode Mode) bool {
	if mode == ModeVerbose {
		return true
	}
	_, modifying := modifyingOperations[op]
	return modifying
}
