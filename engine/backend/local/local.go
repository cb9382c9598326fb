// Package local implements the workspace backend that executes commands and
// file operations on the local machine, optionally wrapped in OS-level
// namespace isolation via bubblewrap.
package local

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aspects-ai/agent-backend/engine/backend"
	"github.com/aspects-ai/agent-backend/engine/oplog"
	"github.com/aspects-ai/agent-backend/engine/pathres"
	"github.com/aspects-ai/agent-backend/engine/safety"
	"github.com/aspects-ai/agent-backend/engine/sandbox"
)

// Config holds construction options for the local backend.
type Config struct {
	// RootDir is the workspace boundary. Required; created if missing.
	RootDir string

	// Isolation selects the enforcement strategy. Defaults to auto.
	Isolation backend.Isolation

	// AllowDangerous disables command-danger classification. The zero
	// value keeps the classifier on.
	AllowDangerous bool

	// OnDangerous, when set, is invoked instead of failing a blocked
	// command; the exec call then returns an empty result.
	OnDangerous func(command string)

	// Shell picks the command interpreter: "bash", "sh", or "" / "auto"
	// for detection.
	Shell string

	// MaxOutputBytes caps captured exec output. Non-positive means
	// unlimited.
	MaxOutputBytes int64

	// OpTimeout bounds each operation. Non-positive means no limit.
	OpTimeout time.Duration

	// Safety carries allowed-pattern overrides for the classifier.
	Safety *safety.Config

	// OpsLogger receives one entry per completed operation.
	OpsLogger oplog.Logger
}

// Local is the local-process backend variant.
type Local struct {
	rootDir        string
	isolation      backend.Isolation // effective, after auto detection
	allowDangerous bool
	onDangerous    func(string)
	shell          string
	maxOutput      int64
	opTimeout      time.Duration
	safetyCfg      *safety.Config
	opsLogger      oplog.Logger

	statuses *backend.StatusManager

	mu         sync.Mutex
	scopes     map[backend.Backend]struct{}
	closeables map[io.Closer]struct{}
}

var _ backend.Backend = (*Local)(nil)

// New constructs a local backend. The root directory is absolutized and
// created. Namespace isolation fails fast when bwrap is missing, unless auto
// mode was chosen, which downgrades to software validation.
func New(cfg *Config) (*Local, error) {
	if cfg == nil {
		return nil, backend.ErrInvalidConfiguration(errMissingRoot)
	}
	rootDir, err := pathres.NormalizeRoot(cfg.RootDir)
	if err != nil {
		return nil, backend.ErrInvalidConfiguration(err)
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, backend.ErrInvalidConfiguration(err)
	}
	isolation, err := effectiveIsolation(cfg.Isolation)
	if err != nil {
		return nil, err
	}
	return &Local{
		rootDir:        rootDir,
		isolation:      isolation,
		allowDangerous: cfg.AllowDangerous,
		onDangerous:    cfg.OnDangerous,
		shell:          detectShell(cfg.Shell),
		maxOutput:      cfg.MaxOutputBytes,
		opTimeout:      cfg.OpTimeout,
		safetyCfg:      cfg.Safety,
		opsLogger:      cfg.OpsLogger,
		statuses:       backend.NewStatusManager(backend.StatusConnected),
		scopes:         make(map[backend.Backend]struct{}),
		closeables:     make(map[io.Closer]struct{}),
	}, nil
}

func effectiveIsolation(requested backend.Isolation) (backend.Isolation, error) {
	switch requested {
	case backend.IsolationNamespace:
		if !sandbox.Available() {
			return "", backend.ErrMissingUtilities("bwrap")
		}
		return backend.IsolationNamespace, nil
	case backend.IsolationSoftware, backend.IsolationNone:
		return requested, nil
	case backend.IsolationAuto, "":
		if sandbox.Available() {
			return backend.IsolationNamespace, nil
		}
		return backend.IsolationSoftware, nil
	default:
		return "", backend.ErrInvalidConfiguration(errUnknownIsolation(requested))
	}
}

func detectShell(preference string) string {
	switch preference {
	case "bash", "sh":
		return preference
	}
	if _, err := exec.LookPath("bash"); err == nil {
		return "bash"
	}
	return "sh"
}

func (l *Local) Type() backend.Type     { return backend.TypeLocal }
func (l *Local) RootDir() string        { return l.rootDir }
func (l *Local) Status() backend.Status { return l.statuses.Status() }

// EffectiveIsolation exposes the isolation mode in force after auto
// detection.
func (l *Local) EffectiveIsolation() backend.Isolation { return l.isolation }

func (l *Local) OnStatusChange(cb backend.StatusCallback) backend.Unsubscribe {
	return l.statuses.Subscribe(cb)
}

func (l *Local) TrackCloseable(c io.Closer) {
	l.mu.Lock()
	l.closeables[c] = struct{}{}
	l.mu.Unlock()
}

func (l *Local) UntrackCloseable(c io.Closer) {
	l.mu.Lock()
	delete(l.closeables, c)
	l.mu.Unlock()
}

func (l *Local) checkLive(operation string) error {
	if l.statuses.Status() == backend.StatusDestroyed {
		return backend.ErrDestroyed(operation)
	}
	return nil
}

// resolvePath validates a caller path against the root. Absolute paths
// already inside the root are translated to relative form first; isolation
// mode none skips validation entirely.
func (l *Local) resolvePath(p string) (string, error) {
	if l.isolation == backend.IsolationNone {
		if filepath.IsAbs(p) {
			return filepath.Clean(p), nil
		}
		return filepath.Join(l.rootDir, p), nil
	}
	if rel, ok := pathres.RelativeWithinRoot(l.rootDir, p); ok {
		p = rel
	}
	resolved, err := pathres.Resolve(l.rootDir, p)
	if err != nil {
		return "", backend.ErrPathEscape(p, err)
	}
	return resolved, nil
}

func (l *Local) Read(ctx context.Context, path string) ([]byte, error) {
	if err := l.checkLive("read"); err != nil {
		return nil, err
	}
	fullPath, err := l.resolvePath(path)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	content, err := os.ReadFile(fullPath)
	l.emit(oplog.OpRead, path, err == nil, time.Since(start), err)
	if err != nil {
		return nil, backend.ErrReadFailed(path, err)
	}
	return content, nil
}

func (l *Local) Write(ctx context.Context, path string, content []byte) error {
	if err := l.checkLive("write"); err != nil {
		return err
	}
	fullPath, err := l.resolvePath(path)
	if err != nil {
		return err
	}
	start := time.Now()
	err = writeFile(fullPath, content)
	l.emit(oplog.OpWrite, path, err == nil, time.Since(start), err)
	if err != nil {
		return backend.ErrWriteFailed(path, err)
	}
	return nil
}

func writeFile(fullPath string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(fullPath, content, 0o644)
}

func (l *Local) List(ctx context.Context, path string) ([]string, error) {
	if err := l.checkLive("readdir"); err != nil {
		return nil, err
	}
	fullPath, err := l.resolvePath(path)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	entries, err := os.ReadDir(fullPath)
	l.emit(oplog.OpList, path, err == nil, time.Since(start), err)
	if err != nil {
		return nil, backend.ErrListFailed(path, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (l *Local) Mkdir(ctx context.Context, path string) error {
	if err := l.checkLive("mkdir"); err != nil {
		return err
	}
	fullPath, err := l.resolvePath(path)
	if err != nil {
		return err
	}
	start := time.Now()
	err = os.MkdirAll(fullPath, 0o755)
	l.emit(oplog.OpMkdir, path, err == nil, time.Since(start), err)
	if err != nil {
		return backend.ErrWriteFailed(path, err)
	}
	return nil
}

func (l *Local) Touch(ctx context.Context, path string) error {
	if err := l.checkLive("touch"); err != nil {
		return err
	}
	fullPath, err := l.resolvePath(path)
	if err != nil {
		return err
	}
	start := time.Now()
	err = touchFile(fullPath)
	l.emit(oplog.OpTouch, path, err == nil, time.Since(start), err)
	if err != nil {
		return backend.ErrWriteFailed(path, err)
	}
	return nil
}

func touchFile(fullPath string) error {
	if _, err := os.Lstat(fullPath); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return file.Close()
}

func (l *Local) Exists(ctx context.Context, path string) (bool, error) {
	if err := l.checkLive("exists"); err != nil {
		return false, err
	}
	fullPath, err := l.resolvePath(path)
	if err != nil {
		return false, err
	}
	_, statErr := os.Lstat(fullPath)
	return statErr == nil, nil
}

func (l *Local) Stat(ctx context.Context, path string) (backend.FileInfo, error) {
	if err := l.checkLive("stat"); err != nil {
		return backend.FileInfo{}, err
	}
	fullPath, err := l.resolvePath(path)
	if err != nil {
		return backend.FileInfo{}, err
	}
	info, statErr := os.Stat(fullPath)
	if statErr != nil {
		return backend.FileInfo{}, backend.ErrReadFailed(path, statErr)
	}
	return backend.FileInfo{
		IsFile:  info.Mode().IsRegular(),
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

func (l *Local) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := l.checkLive("rename"); err != nil {
		return err
	}
	fullOld, err := l.resolvePath(oldPath)
	if err != nil {
		return err
	}
	fullNew, err := l.resolvePath(newPath)
	if err != nil {
		return err
	}
	start := time.Now()
	err = renameFile(fullOld, fullNew)
	l.emit(oplog.OpRename, oldPath, err == nil, time.Since(start), err)
	if err != nil {
		return backend.ErrWriteFailed(oldPath, err)
	}
	return nil
}

func renameFile(fullOld, fullNew string) error {
	if err := os.MkdirAll(filepath.Dir(fullNew), 0o755); err != nil {
		return err
	}
	return os.Rename(fullOld, fullNew)
}

func (l *Local) Remove(ctx context.Context, path string, opts *backend.RemoveOptions) error {
	if err := l.checkLive("rm"); err != nil {
		return err
	}
	fullPath, err := l.resolvePath(path)
	if err != nil {
		return err
	}
	var recursive, force bool
	if opts != nil {
		recursive, force = opts.Recursive, opts.Force
	}
	start := time.Now()
	err = removePath(fullPath, recursive, force)
	l.emit(oplog.OpRemove, path, err == nil, time.Since(start), err)
	if err != nil {
		return backend.ErrWriteFailed(path, err)
	}
	return nil
}

func removePath(fullPath string, recursive, force bool) error {
	info, err := os.Lstat(fullPath)
	if err != nil {
		if os.IsNotExist(err) && force {
			return nil
		}
		return err
	}
	if info.IsDir() {
		if recursive {
			return os.RemoveAll(fullPath)
		}
		return os.Remove(fullPath)
	}
	return os.Remove(fullPath)
}

func (l *Local) Scope(path string, cfg *backend.ScopeConfig) (backend.Backend, error) {
	if err := l.checkLive("scope"); err != nil {
		return nil, err
	}
	scoped, err := backend.NewScoped(l, path, cfg)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.scopes[scoped] = struct{}{}
	l.mu.Unlock()
	return scoped, nil
}

func (l *Local) ActiveScopes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	paths := make([]string, 0, len(l.scopes))
	for scope := range l.scopes {
		if s, ok := scope.(*backend.Scoped); ok {
			paths = append(paths, s.ScopePath())
		}
	}
	sort.Strings(paths)
	return paths
}

func (l *Local) OnChildDestroyed(child backend.Backend) {
	l.mu.Lock()
	delete(l.scopes, child)
	l.mu.Unlock()
}

// Destroy is a barrier: the status flips first so no new operation can
// start, then every tracked resource is released. Close errors are ignored;
// destruction always completes.
func (l *Local) Destroy(_ context.Context) error {
	l.statuses.Set(backend.StatusDestroyed, nil)
	l.mu.Lock()
	closeables := make([]io.Closer, 0, len(l.closeables))
	for c := range l.closeables {
		closeables = append(closeables, c)
	}
	l.closeables = make(map[io.Closer]struct{})
	l.scopes = make(map[backend.Backend]struct{})
	l.mu.Unlock()

	for _, c := range closeables {
		_ = c.Close()
	}
	l.statuses.Clear()
	return nil
}

func (l *Local) emit(op oplog.Operation, command string, success bool, duration time.Duration, err error) {
	entry := oplog.NewEntry(op, command)
	entry.WorkspacePath = l.rootDir
	entry.Success = success
	entry.Duration = duration
	if err != nil {
		entry.Error = err.Error()
	}
	oplog.Emit(l.opsLogger, entry)
}
