package backend

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/aspects-ai/agent-backend/engine/oplog"
	"github.com/aspects-ai/agent-backend/engine/pathres"
)

// Scoped confines all operations to a sub-boundary of a parent backend. It
// owns no transport: every call rewrites the path under the scope and
// forwards to the parent, which re-validates independently, so a bug in one
// layer alone cannot produce an escape.
//
// The parent reference is immutable and points one way only, so scope chains
// form a strict tree.
type Scoped struct {
	parent    Backend
	scopePath string
	rootDir   string
	env       map[string]string
	opsLogger oplog.Logger

	mu          sync.Mutex
	rootEnsured bool
	closeables  map[io.Closer]struct{}
	destroyed   bool
}

// compile-time interface check
var _ Backend = (*Scoped)(nil)

// NewScoped derives a scoped backend. The scope path is validated against
// the parent's root before anything else; escape attempts fail construction.
func NewScoped(parent Backend, scopePath string, cfg *ScopeConfig) (*Scoped, error) {
	if _, err := pathres.Resolve(parent.RootDir(), scopePath); err != nil {
		return nil, ErrPathEscape(scopePath, err)
	}
	cleaned := filepath.Clean(scopePath)
	scoped := &Scoped{
		parent:     parent,
		scopePath:  cleaned,
		rootDir:    filepath.Join(parent.RootDir(), cleaned),
		closeables: make(map[io.Closer]struct{}),
	}
	if cfg != nil {
		scoped.env = MergeEnvMaps(nil, cfg.Env)
		scoped.opsLogger = cfg.OpsLogger
	}
	return scoped, nil
}

func (s *Scoped) Type() Type      { return s.parent.Type() }
func (s *Scoped) Status() Status  { return s.parent.Status() }
func (s *Scoped) RootDir() string { return s.rootDir }

// ScopePath is the scope's boundary relative to the parent root.
func (s *Scoped) ScopePath() string { return s.scopePath }

// Parent returns the backend this scope forwards to.
func (s *Scoped) Parent() Backend { return s.parent }

func (s *Scoped) OnStatusChange(cb StatusCallback) Unsubscribe {
	return s.parent.OnStatusChange(cb)
}

// TrackCloseable registers the closer with this scope and with the parent
// chain, so destroying the root backend releases it even when the scope
// object is abandoned without an explicit Destroy.
func (s *Scoped) TrackCloseable(c io.Closer) {
	s.mu.Lock()
	s.closeables[c] = struct{}{}
	s.mu.Unlock()
	s.parent.TrackCloseable(c)
}

func (s *Scoped) UntrackCloseable(c io.Closer) {
	s.mu.Lock()
	delete(s.closeables, c)
	s.mu.Unlock()
	s.parent.UntrackCloseable(c)
}

func (s *Scoped) checkLive(operation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed(operation)
	}
	return nil
}

// toParentPath rewrites a caller path into the parent's coordinate space.
// Absolute paths already inside the scope's effective root are translated
// back to scope-relative form; everything else must be relative and is
// validated against the scope boundary.
func (s *Scoped) toParentPath(p string) (string, error) {
	if err := s.checkLive("path"); err != nil {
		return "", err
	}
	if rel, ok := pathres.RelativeWithinRoot(s.rootDir, p); ok {
		p = rel
	}
	joined, err := pathres.Join(s.scopePath, p)
	if err != nil {
		return "", ErrPathEscape(p, err)
	}
	return joined, nil
}

// ensureRoot lazily creates the scope directory before the first operation
// that needs it to exist.
func (s *Scoped) ensureRoot(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rootEnsured {
		return nil
	}
	exists, err := s.parent.Exists(ctx, s.scopePath)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.parent.Mkdir(ctx, s.scopePath); err != nil {
			return err
		}
	}
	s.rootEnsured = true
	return nil
}

func (s *Scoped) Exec(ctx context.Context, command string, opts *ExecOptions) (*ExecResult, error) {
	if err := s.checkLive("exec"); err != nil {
		return nil, err
	}
	if err := s.ensureRoot(ctx); err != nil {
		return nil, err
	}
	var callerEnv map[string]string
	if opts != nil {
		callerEnv = opts.Env
	}
	scopedOpts := &ExecOptions{
		Cwd: s.rootDir,
		Env: MergeEnvMaps(s.env, callerEnv),
	}
	start := time.Now()
	result, err := s.parent.Exec(ctx, command, scopedOpts)
	s.logOp(oplog.OpExec, command, err == nil, time.Since(start), result, err)
	return result, err
}

func (s *Scoped) Read(ctx context.Context, path string) ([]byte, error) {
	parentPath, err := s.toParentPath(path)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	content, err := s.parent.Read(ctx, parentPath)
	s.logOp(oplog.OpRead, path, err == nil, time.Since(start), nil, err)
	return content, err
}

func (s *Scoped) Write(ctx context.Context, path string, content []byte) error {
	parentPath, err := s.toParentPath(path)
	if err != nil {
		return err
	}
	if err := s.ensureRoot(ctx); err != nil {
		return err
	}
	start := time.Now()
	err = s.parent.Write(ctx, parentPath, content)
	s.logOp(oplog.OpWrite, path, err == nil, time.Since(start), nil, err)
	return err
}

func (s *Scoped) List(ctx context.Context, path string) ([]string, error) {
	parentPath, err := s.toParentPath(path)
	if err != nil {
		return nil, err
	}
	if err := s.ensureRoot(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	entries, err := s.parent.List(ctx, parentPath)
	s.logOp(oplog.OpList, path, err == nil, time.Since(start), nil, err)
	return entries, err
}

func (s *Scoped) Mkdir(ctx context.Context, path string) error {
	parentPath, err := s.toParentPath(path)
	if err != nil {
		return err
	}
	if err := s.ensureRoot(ctx); err != nil {
		return err
	}
	start := time.Now()
	err = s.parent.Mkdir(ctx, parentPath)
	s.logOp(oplog.OpMkdir, path, err == nil, time.Since(start), nil, err)
	return err
}

func (s *Scoped) Touch(ctx context.Context, path string) error {
	parentPath, err := s.toParentPath(path)
	if err != nil {
		return err
	}
	if err := s.ensureRoot(ctx); err != nil {
		return err
	}
	start := time.Now()
	err = s.parent.Touch(ctx, parentPath)
	s.logOp(oplog.OpTouch, path, err == nil, time.Since(start), nil, err)
	return err
}

func (s *Scoped) Exists(ctx context.Context, path string) (bool, error) {
	parentPath, err := s.toParentPath(path)
	if err != nil {
		return false, err
	}
	return s.parent.Exists(ctx, parentPath)
}

func (s *Scoped) Stat(ctx context.Context, path string) (FileInfo, error) {
	parentPath, err := s.toParentPath(path)
	if err != nil {
		return FileInfo{}, err
	}
	return s.parent.Stat(ctx, parentPath)
}

func (s *Scoped) Rename(ctx context.Context, oldPath, newPath string) error {
	parentOld, err := s.toParentPath(oldPath)
	if err != nil {
		return err
	}
	parentNew, err := s.toParentPath(newPath)
	if err != nil {
		return err
	}
	if err := s.ensureRoot(ctx); err != nil {
		return err
	}
	start := time.Now()
	err = s.parent.Rename(ctx, parentOld, parentNew)
	s.logOp(oplog.OpRename, oldPath, err == nil, time.Since(start), nil, err)
	return err
}

func (s *Scoped) Remove(ctx context.Context, path string, opts *RemoveOptions) error {
	parentPath, err := s.toParentPath(path)
	if err != nil {
		return err
	}
	start := time.Now()
	err = s.parent.Remove(ctx, parentPath, opts)
	s.logOp(oplog.OpRemove, path, err == nil, time.Since(start), nil, err)
	return err
}

// Scope derives a nested scope. The nested path is validated against this
// scope's boundary first, so a nested scope can never climb out of its
// parent scope even when the climb would stay under the root backend. The
// combined scope attaches directly to the root parent with merged config.
func (s *Scoped) Scope(path string, cfg *ScopeConfig) (Backend, error) {
	if err := s.checkLive("scope"); err != nil {
		return nil, err
	}
	combined, err := pathres.Join(s.scopePath, path)
	if err != nil {
		return nil, ErrPathEscape(path, err)
	}
	var childEnv map[string]string
	childLogger := s.opsLogger
	if cfg != nil {
		childEnv = cfg.Env
		if cfg.OpsLogger != nil {
			childLogger = cfg.OpsLogger
		}
	}
	return s.parent.Scope(combined, &ScopeConfig{
		Env:       MergeEnvMaps(s.env, childEnv),
		OpsLogger: childLogger,
	})
}

func (s *Scoped) ActiveScopes() []string {
	return s.parent.ActiveScopes()
}

func (s *Scoped) OnChildDestroyed(child Backend) {
	s.parent.OnChildDestroyed(child)
}

// Destroy releases resources this scope introduced and detaches it from the
// parent. The parent's transport is untouched; only the root backend owns it.
func (s *Scoped) Destroy(_ context.Context) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	closeables := make([]io.Closer, 0, len(s.closeables))
	for c := range s.closeables {
		closeables = append(closeables, c)
	}
	s.closeables = make(map[io.Closer]struct{})
	s.mu.Unlock()

	// Deregister before closing so the root does not close these again.
	for _, c := range closeables {
		s.parent.UntrackCloseable(c)
		_ = c.Close()
	}
	s.parent.OnChildDestroyed(s)
	return nil
}

func (s *Scoped) logOp(
	op oplog.Operation,
	command string,
	success bool,
	duration time.Duration,
	result *ExecResult,
	err error,
) {
	if s.opsLogger == nil || !oplog.ShouldLog(op, s.opsLogger.Mode()) {
		return
	}
	entry := oplog.NewEntry(op, command)
	entry.WorkspacePath = s.rootDir
	entry.WorkspaceName = s.scopePath
	entry.Success = success
	entry.Duration = duration
	if result != nil {
		entry.Stdout = result.Stdout
		entry.Stderr = result.Stderr
		entry.ExitCode = result.ExitCode
	}
	if err != nil {
		entry.Error = err.Error()
	}
	s.opsLogger.Log(entry)
}
