// Package backend defines the capability set shared by all workspace backend
// variants and the scoped delegation wrapper that confines callers to a
// sub-boundary. Concrete variants live in the local, memory, and remote
// subpackages.
package backend

import (
	"context"
	"io"
	"time"

	"github.com/aspects-ai/agent-backend/engine/oplog"
)

// Type tags a backend variant.
type Type string

const (
	TypeLocal  Type = "local-filesystem"
	TypeRemote Type = "remote-filesystem"
	TypeMemory Type = "memory"
)

// Isolation selects the enforcement strategy for command execution.
type Isolation string

const (
	// IsolationAuto picks namespace isolation when available and degrades
	// to software validation otherwise.
	IsolationAuto Isolation = "auto"
	// IsolationNamespace requires OS-level namespace sandboxing (bwrap).
	// Construction fails when the tooling is missing.
	IsolationNamespace Isolation = "namespace"
	// IsolationSoftware relies on path resolution and command
	// classification only.
	IsolationSoftware Isolation = "software"
	// IsolationNone disables all validation. Explicitly opt-in.
	IsolationNone Isolation = "none"
)

// Status tracks a backend's connection lifecycle.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusConnecting   Status = "connecting"
	StatusDisconnected Status = "disconnected"
	StatusReconnecting Status = "reconnecting"
	StatusDestroyed    Status = "destroyed"
)

// StatusEvent describes one status transition.
type StatusEvent struct {
	From Status
	To   Status
	At   time.Time
	Err  error
}

// StatusCallback observes status transitions.
type StatusCallback func(StatusEvent)

// Unsubscribe removes a previously registered callback.
type Unsubscribe func()

// FileInfo is transport-agnostic file metadata.
type FileInfo struct {
	IsFile  bool
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// ExecOptions adjusts a single exec call.
type ExecOptions struct {
	// Cwd is an absolute working directory override. Must resolve inside
	// the backend root.
	Cwd string
	// Env entries are merged over the backend environment, overriding on
	// key collision.
	Env map[string]string
}

// ExecResult carries the captured outcome of a command.
type ExecResult struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	TimedOut  bool
	Truncated bool
	Duration  time.Duration
}

// Success reports whether the command completed with a zero exit status.
func (r *ExecResult) Success() bool {
	return r != nil && r.ExitCode == 0 && !r.TimedOut
}

// RemoveOptions adjusts Remove behavior.
type RemoveOptions struct {
	// Recursive deletes directories and their contents.
	Recursive bool
	// Force suppresses missing-path errors.
	Force bool
}

// ScopeConfig configures a derived scoped backend.
type ScopeConfig struct {
	// Env overrides are merged into the parent environment for exec
	// calls, child values winning on collision.
	Env map[string]string
	// OpsLogger receives operation entries for this scope.
	OpsLogger oplog.Logger
}

// Backend is the complete capability set exposed to callers. Every
// path-bearing operation re-validates its path against the backend root, and
// exec calls pass through command-danger classification before any transport
// is touched.
type Backend interface {
	Type() Type
	RootDir() string
	Status() Status
	OnStatusChange(cb StatusCallback) Unsubscribe

	Exec(ctx context.Context, command string, opts *ExecOptions) (*ExecResult, error)
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, content []byte) error
	List(ctx context.Context, path string) ([]string, error)
	Mkdir(ctx context.Context, path string) error
	Touch(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	Stat(ctx context.Context, path string) (FileInfo, error)
	Rename(ctx context.Context, oldPath, newPath string) error
	Remove(ctx context.Context, path string, opts *RemoveOptions) error

	// Scope derives a backend confined to a sub-boundary. The scope path
	// is validated against this backend's root at creation time.
	Scope(path string, cfg *ScopeConfig) (Backend, error)
	// ActiveScopes lists the scope paths currently derived from this
	// backend.
	ActiveScopes() []string

	// TrackCloseable registers a resource released when the root backend
	// is destroyed. Scoped backends forward to their parent.
	TrackCloseable(c io.Closer)
	// UntrackCloseable removes a tracked resource without closing it. A
	// scope that closes its own resources deregisters them here so the
	// root does not close them a second time.
	UntrackCloseable(c io.Closer)
	// OnChildDestroyed detaches a destroyed scope from this backend.
	OnChildDestroyed(child Backend)
	// Destroy tears everything down. New operations fail once
	// destruction has begun.
	Destroy(ctx context.Context) error
}
