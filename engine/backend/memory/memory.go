// Package memory implements an in-memory workspace backend backed by an
// afero memory filesystem. It is intended for tests and ephemeral scratch
// space; command execution is not supported.
package memory

import (
	"context"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/aspects-ai/agent-backend/engine/backend"
	"github.com/aspects-ai/agent-backend/engine/oplog"
	"github.com/aspects-ai/agent-backend/engine/pathres"
)

// Config holds construction options for the memory backend.
type Config struct {
	// RootDir names the virtual workspace root. Defaults to "/workspace".
	RootDir string

	// OpsLogger receives one entry per completed operation.
	OpsLogger oplog.Logger
}

// Memory stores workspace contents in process memory. All operations are
// serialized through one mutex; the afero memory filesystem is not safe for
// concurrent writers on its own.
type Memory struct {
	rootDir   string
	fs        afero.Fs
	opsLogger oplog.Logger
	statuses  *backend.StatusManager

	mu         sync.Mutex
	scopes     map[backend.Backend]struct{}
	closeables map[io.Closer]struct{}
}

var _ backend.Backend = (*Memory)(nil)

// New constructs an empty in-memory backend.
func New(cfg *Config) (*Memory, error) {
	rootDir := "/workspace"
	var opsLogger oplog.Logger
	if cfg != nil {
		if cfg.RootDir != "" {
			rootDir = cfg.RootDir
		}
		opsLogger = cfg.OpsLogger
	}
	if !strings.HasPrefix(rootDir, "/") {
		rootDir = "/" + rootDir
	}
	rootDir = path.Clean(rootDir)
	memFs := afero.NewMemMapFs()
	if err := memFs.MkdirAll(rootDir, 0o755); err != nil {
		return nil, backend.ErrInvalidConfiguration(err)
	}
	return &Memory{
		rootDir:    rootDir,
		fs:         memFs,
		opsLogger:  opsLogger,
		statuses:   backend.NewStatusManager(backend.StatusConnected),
		scopes:     make(map[backend.Backend]struct{}),
		closeables: make(map[io.Closer]struct{}),
	}, nil
}

func (m *Memory) Type() backend.Type     { return backend.TypeMemory }
func (m *Memory) RootDir() string        { return m.rootDir }
func (m *Memory) Status() backend.Status { return m.statuses.Status() }

func (m *Memory) OnStatusChange(cb backend.StatusCallback) backend.Unsubscribe {
	return m.statuses.Subscribe(cb)
}

// Exec is not supported on the memory variant.
func (m *Memory) Exec(_ context.Context, _ string, _ *backend.ExecOptions) (*backend.ExecResult, error) {
	if err := m.checkLive("exec"); err != nil {
		return nil, err
	}
	return nil, backend.ErrNotImplemented("exec", backend.TypeMemory)
}

func (m *Memory) checkLive(operation string) error {
	if m.statuses.Status() == backend.StatusDestroyed {
		return backend.ErrDestroyed(operation)
	}
	return nil
}

func (m *Memory) resolvePath(p string) (string, error) {
	if rel, ok := pathres.RelativeWithinRoot(m.rootDir, p); ok {
		p = rel
	}
	resolved, err := pathres.Resolve(m.rootDir, p)
	if err != nil {
		return "", backend.ErrPathEscape(p, err)
	}
	return resolved, nil
}

func (m *Memory) Read(_ context.Context, p string) ([]byte, error) {
	if err := m.checkLive("read"); err != nil {
		return nil, err
	}
	fullPath, err := m.resolvePath(p)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	start := time.Now()
	content, readErr := afero.ReadFile(m.fs, fullPath)
	m.emit(oplog.OpRead, p, readErr == nil, time.Since(start), readErr)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, backend.ErrKeyNotFound(p, "read")
		}
		return nil, backend.ErrReadFailed(p, readErr)
	}
	return content, nil
}

func (m *Memory) Write(_ context.Context, p string, content []byte) error {
	if err := m.checkLive("write"); err != nil {
		return err
	}
	fullPath, err := m.resolvePath(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	start := time.Now()
	writeErr := m.writeFile(fullPath, content)
	m.emit(oplog.OpWrite, p, writeErr == nil, time.Since(start), writeErr)
	if writeErr != nil {
		return backend.ErrWriteFailed(p, writeErr)
	}
	return nil
}

func (m *Memory) writeFile(fullPath string, content []byte) error {
	if err := m.fs.MkdirAll(path.Dir(fullPath), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(m.fs, fullPath, content, 0o644)
}

// List returns the names of the immediate children of a directory, sorted.
func (m *Memory) List(_ context.Context, p string) ([]string, error) {
	if err := m.checkLive("readdir"); err != nil {
		return nil, err
	}
	fullPath, err := m.resolvePath(p)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	start := time.Now()
	entries, readErr := afero.ReadDir(m.fs, fullPath)
	m.emit(oplog.OpList, p, readErr == nil, time.Since(start), readErr)
	if readErr != nil {
		return nil, backend.ErrListFailed(p, readErr)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) Mkdir(_ context.Context, p string) error {
	if err := m.checkLive("mkdir"); err != nil {
		return err
	}
	fullPath, err := m.resolvePath(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	start := time.Now()
	mkErr := m.fs.MkdirAll(fullPath, 0o755)
	m.emit(oplog.OpMkdir, p, mkErr == nil, time.Since(start), mkErr)
	if mkErr != nil {
		return backend.ErrWriteFailed(p, mkErr)
	}
	return nil
}

func (m *Memory) Touch(_ context.Context, p string) error {
	if err := m.checkLive("touch"); err != nil {
		return err
	}
	fullPath, err := m.resolvePath(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	start := time.Now()
	touchErr := m.touch(fullPath)
	m.emit(oplog.OpTouch, p, touchErr == nil, time.Since(start), touchErr)
	if touchErr != nil {
		return backend.ErrWriteFailed(p, touchErr)
	}
	return nil
}

func (m *Memory) touch(fullPath string) error {
	if exists, err := afero.Exists(m.fs, fullPath); err != nil {
		return err
	} else if exists {
		return nil
	}
	return m.writeFile(fullPath, nil)
}

func (m *Memory) Exists(_ context.Context, p string) (bool, error) {
	if err := m.checkLive("exists"); err != nil {
		return false, err
	}
	fullPath, err := m.resolvePath(p)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	exists, existsErr := afero.Exists(m.fs, fullPath)
	if existsErr != nil {
		return false, backend.ErrReadFailed(p, existsErr)
	}
	return exists, nil
}

func (m *Memory) Stat(_ context.Context, p string) (backend.FileInfo, error) {
	if err := m.checkLive("stat"); err != nil {
		return backend.FileInfo{}, err
	}
	fullPath, err := m.resolvePath(p)
	if err != nil {
		return backend.FileInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	info, statErr := m.fs.Stat(fullPath)
	if statErr != nil {
		return backend.FileInfo{}, backend.ErrReadFailed(p, statErr)
	}
	return backend.FileInfo{
		IsFile:  !info.IsDir(),
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

func (m *Memory) Rename(_ context.Context, oldPath, newPath string) error {
	if err := m.checkLive("rename"); err != nil {
		return err
	}
	fullOld, err := m.resolvePath(oldPath)
	if err != nil {
		return err
	}
	fullNew, err := m.resolvePath(newPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	start := time.Now()
	renameErr := m.rename(fullOld, fullNew)
	m.emit(oplog.OpRename, oldPath, renameErr == nil, time.Since(start), renameErr)
	if renameErr != nil {
		return backend.ErrWriteFailed(oldPath, renameErr)
	}
	return nil
}

func (m *Memory) rename(fullOld, fullNew string) error {
	if err := m.fs.MkdirAll(path.Dir(fullNew), 0o755); err != nil {
		return err
	}
	return m.fs.Rename(fullOld, fullNew)
}

func (m *Memory) Remove(_ context.Context, p string, opts *backend.RemoveOptions) error {
	if err := m.checkLive("rm"); err != nil {
		return err
	}
	fullPath, err := m.resolvePath(p)
	if err != nil {
		return err
	}
	var recursive, force bool
	if opts != nil {
		recursive, force = opts.Recursive, opts.Force
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	start := time.Now()
	rmErr := m.remove(fullPath, recursive, force)
	m.emit(oplog.OpRemove, p, rmErr == nil, time.Since(start), rmErr)
	if rmErr != nil {
		return backend.ErrWriteFailed(p, rmErr)
	}
	return nil
}

func (m *Memory) remove(fullPath string, recursive, force bool) error {
	exists, err := afero.Exists(m.fs, fullPath)
	if err != nil {
		return err
	}
	if !exists {
		if force {
			return nil
		}
		return os.ErrNotExist
	}
	if recursive {
		return m.fs.RemoveAll(fullPath)
	}
	return m.fs.Remove(fullPath)
}

func (m *Memory) Scope(p string, cfg *backend.ScopeConfig) (backend.Backend, error) {
	if err := m.checkLive("scope"); err != nil {
		return nil, err
	}
	scoped, err := backend.NewScoped(m, p, cfg)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.scopes[scoped] = struct{}{}
	m.mu.Unlock()
	return scoped, nil
}

func (m *Memory) ActiveScopes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.scopes))
	for scope := range m.scopes {
		if s, ok := scope.(*backend.Scoped); ok {
			paths = append(paths, s.ScopePath())
		}
	}
	sort.Strings(paths)
	return paths
}

func (m *Memory) OnChildDestroyed(child backend.Backend) {
	m.mu.Lock()
	delete(m.scopes, child)
	m.mu.Unlock()
}

func (m *Memory) TrackCloseable(c io.Closer) {
	m.mu.Lock()
	m.closeables[c] = struct{}{}
	m.mu.Unlock()
}

func (m *Memory) UntrackCloseable(c io.Closer) {
	m.mu.Lock()
	delete(m.closeables, c)
	m.mu.Unlock()
}

// Destroy drops the filesystem and releases tracked resources.
func (m *Memory) Destroy(_ context.Context) error {
	m.statuses.Set(backend.StatusDestroyed, nil)
	m.mu.Lock()
	closeables := make([]io.Closer, 0, len(m.closeables))
	for c := range m.closeables {
		closeables = append(closeables, c)
	}
	m.closeables = make(map[io.Closer]struct{})
	m.scopes = make(map[backend.Backend]struct{})
	m.fs = afero.NewMemMapFs()
	m.mu.Unlock()

	for _, c := range closeables {
		_ = c.Close()
	}
	m.statuses.Clear()
	return nil
}

func (m *Memory) emit(op oplog.Operation, command string, success bool, duration time.Duration, err error) {
	entry := oplog.NewEntry(op, command)
	entry.WorkspacePath = m.rootDir
	entry.Success = success
	entry.Duration = duration
	if err != nil {
		entry.Error = err.Error()
	}
	oplog.Emit(m.opsLogger, entry)
}
