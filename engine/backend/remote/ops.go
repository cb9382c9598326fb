package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/aspects-ai/agent-backend/engine/backend"
	"github.com/aspects-ai/agent-backend/engine/oplog"
	"github.com/aspects-ai/agent-backend/engine/pathres"
	"github.com/aspects-ai/agent-backend/engine/safety"
)

const truncationMarker = "\n[output truncated]"

// shellQuote wraps a string in single quotes for safe interpolation into a
// remote shell command.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func pathSlashClean(p string) string {
	return path.Clean(p)
}

// session returns a fresh SSH session, attempting one reconnect when the
// current connection is gone.
func (r *Remote) session(ctx context.Context) (*ssh.Session, error) {
	r.connMu.Lock()
	client := r.client
	r.connMu.Unlock()
	if client == nil {
		return nil, backend.ErrConnectionClosed("session")
	}
	session, err := client.NewSession()
	if err == nil {
		return session, nil
	}

	r.statuses.Set(backend.StatusDisconnected, err)
	if reconnectErr := r.reconnect(ctx); reconnectErr != nil {
		return nil, reconnectErr
	}
	r.connMu.Lock()
	client = r.client
	r.connMu.Unlock()
	session, err = client.NewSession()
	if err != nil {
		return nil, backend.ErrConnectionClosed("session")
	}
	return session, nil
}

// runShell executes a command on the remote host and captures its output.
// The context deadline is enforced by closing the session, which tears down
// the remote process.
func (r *Remote) runShell(ctx context.Context, command string, stdin io.Reader) (stdout, stderr string, exit int, err error) {
	if r.cfg.OpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.OpTimeout)
		defer cancel()
	}

	session, err := r.session(ctx)
	if err != nil {
		return "", "", -1, err
	}
	defer session.Close()

	outBuf := backend.NewOutputBuffer(r.cfg.MaxOutputBytes)
	errBuf := backend.NewOutputBuffer(r.cfg.MaxOutputBytes)
	session.Stdout = outBuf
	session.Stderr = errBuf
	session.Stdin = stdin

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		<-done
		return outBuf.String(), errBuf.String(), -1, backend.ErrTimeout(command, ctx.Err())
	case runErr := <-done:
		if runErr != nil {
			var exitErr *ssh.ExitError
			if errors.As(runErr, &exitErr) {
				return outBuf.String(), errBuf.String(), exitErr.ExitStatus(), nil
			}
			return outBuf.String(), errBuf.String(), -1, backend.ErrConnectionClosed(command)
		}
		return outBuf.String(), errBuf.String(), 0, nil
	}
}

// Exec runs a shell command inside the remote workspace. Classification
// happens locally before any network round trip.
func (r *Remote) Exec(ctx context.Context, command string, opts *backend.ExecOptions) (*backend.ExecResult, error) {
	if err := r.checkLive("exec"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(command) == "" {
		return nil, backend.ErrEmptyCommand()
	}
	if !r.cfg.AllowDangerous {
		check := safety.Check(command, r.cfg.Safety)
		if !check.Safe {
			if r.cfg.OnDangerous != nil {
				r.cfg.OnDangerous(command)
				return &backend.ExecResult{}, nil
			}
			return nil, backend.ErrDangerous(command, check.Category, check.Reason)
		}
	}

	workDir := r.rootDir
	if opts != nil && opts.Cwd != "" {
		if err := pathres.EnsureWithinRoot(r.rootDir, opts.Cwd); err != nil {
			return nil, backend.ErrPathEscape(opts.Cwd, err)
		}
		workDir = opts.Cwd
	}

	remoteCmd := r.wrapCommand(command, workDir, execEnv(opts))

	start := time.Now()
	stdout, stderr, exit, err := r.runShell(ctx, remoteCmd, nil)
	duration := time.Since(start)

	result := &backend.ExecResult{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exit,
		Duration: duration,
	}
	if n := r.cfg.MaxOutputBytes; n > 0 && int64(len(stdout)) >= n {
		result.Truncated = true
		result.Stdout += truncationMarker
	}
	r.emitExec(command, result, duration, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func execEnv(opts *backend.ExecOptions) map[string]string {
	if opts == nil {
		return nil
	}
	return opts.Env
}

// wrapCommand builds the remote command line: environment exports, a cd into
// the working directory, then the user command.
func (r *Remote) wrapCommand(command, workDir string, env map[string]string) string {
	var sb strings.Builder
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString("export ")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(shellQuote(env[k]))
		sb.WriteString("; ")
	}
	sb.WriteString("export HOME=")
	sb.WriteString(shellQuote(workDir))
	sb.WriteString("; cd ")
	sb.WriteString(shellQuote(workDir))
	sb.WriteString(" && ")
	sb.WriteString(command)
	return sb.String()
}

func (r *Remote) Read(ctx context.Context, p string) ([]byte, error) {
	if err := r.checkLive("read"); err != nil {
		return nil, err
	}
	fullPath, err := r.resolvePath(p)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	stdout, stderr, exit, err := r.runShell(ctx, "cat "+shellQuote(fullPath), nil)
	r.emit(oplog.OpRead, p, err == nil && exit == 0, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	if exit != 0 {
		return nil, backend.ErrReadFailed(p, errors.New(strings.TrimSpace(stderr)))
	}
	return []byte(stdout), nil
}

func (r *Remote) Write(ctx context.Context, p string, content []byte) error {
	if err := r.checkLive("write"); err != nil {
		return err
	}
	fullPath, err := r.resolvePath(p)
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf("mkdir -p %s && cat > %s",
		shellQuote(path.Dir(fullPath)), shellQuote(fullPath))
	start := time.Now()
	_, stderr, exit, err := r.runShell(ctx, cmd, bytes.NewReader(content))
	r.emit(oplog.OpWrite, p, err == nil && exit == 0, time.Since(start), err)
	if err != nil {
		return err
	}
	if exit != 0 {
		return backend.ErrWriteFailed(p, errors.New(strings.TrimSpace(stderr)))
	}
	return nil
}

func (r *Remote) List(ctx context.Context, p string) ([]string, error) {
	if err := r.checkLive("readdir"); err != nil {
		return nil, err
	}
	fullPath, err := r.resolvePath(p)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	stdout, stderr, exit, err := r.runShell(ctx, "ls -1A "+shellQuote(fullPath), nil)
	r.emit(oplog.OpList, p, err == nil && exit == 0, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	if exit != 0 {
		return nil, backend.ErrListFailed(p, errors.New(strings.TrimSpace(stderr)))
	}
	names := strings.Split(strings.TrimRight(stdout, "\n"), "\n")
	if len(names) == 1 && names[0] == "" {
		return []string{}, nil
	}
	sort.Strings(names)
	return names, nil
}

func (r *Remote) Mkdir(ctx context.Context, p string) error {
	return r.mutatePath(ctx, oplog.OpMkdir, p, func(fullPath string) string {
		return "mkdir -p " + shellQuote(fullPath)
	})
}

func (r *Remote) Touch(ctx context.Context, p string) error {
	return r.mutatePath(ctx, oplog.OpTouch, p, func(fullPath string) string {
		return fmt.Sprintf("mkdir -p %s && touch %s",
			shellQuote(path.Dir(fullPath)), shellQuote(fullPath))
	})
}

// mutatePath is the shared shape of single-path mutations.
func (r *Remote) mutatePath(ctx context.Context, op oplog.Operation, p string, build func(fullPath string) string) error {
	if err := r.checkLive(string(op)); err != nil {
		return err
	}
	fullPath, err := r.resolvePath(p)
	if err != nil {
		return err
	}
	start := time.Now()
	_, stderr, exit, err := r.runShell(ctx, build(fullPath), nil)
	r.emit(op, p, err == nil && exit == 0, time.Since(start), err)
	if err != nil {
		return err
	}
	if exit != 0 {
		return backend.ErrWriteFailed(p, errors.New(strings.TrimSpace(stderr)))
	}
	return nil
}

func (r *Remote) Exists(ctx context.Context, p string) (bool, error) {
	if err := r.checkLive("exists"); err != nil {
		return false, err
	}
	fullPath, err := r.resolvePath(p)
	if err != nil {
		return false, err
	}
	_, _, exit, err := r.runShell(ctx, "test -e "+shellQuote(fullPath), nil)
	if err != nil {
		return false, err
	}
	return exit == 0, nil
}

func (r *Remote) Stat(ctx context.Context, p string) (backend.FileInfo, error) {
	if err := r.checkLive("stat"); err != nil {
		return backend.FileInfo{}, err
	}
	fullPath, err := r.resolvePath(p)
	if err != nil {
		return backend.FileInfo{}, err
	}
	cmd := "stat -c '%F|%s|%Y' " + shellQuote(fullPath)
	stdout, stderr, exit, err := r.runShell(ctx, cmd, nil)
	if err != nil {
		return backend.FileInfo{}, err
	}
	if exit != 0 {
		return backend.FileInfo{}, backend.ErrReadFailed(p, errors.New(strings.TrimSpace(stderr)))
	}
	return parseStatLine(p, stdout)
}

func parseStatLine(p, line string) (backend.FileInfo, error) {
	parts := strings.SplitN(strings.TrimSpace(line), "|", 3)
	if len(parts) != 3 {
		return backend.FileInfo{}, backend.ErrReadFailed(p, fmt.Errorf("unexpected stat output: %q", line))
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return backend.FileInfo{}, backend.ErrReadFailed(p, err)
	}
	modUnix, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return backend.FileInfo{}, backend.ErrReadFailed(p, err)
	}
	isDir := parts[0] == "directory"
	return backend.FileInfo{
		IsFile:  parts[0] == "regular file" || parts[0] == "regular empty file",
		IsDir:   isDir,
		Size:    size,
		ModTime: time.Unix(modUnix, 0),
	}, nil
}

func (r *Remote) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := r.checkLive("rename"); err != nil {
		return err
	}
	fullOld, err := r.resolvePath(oldPath)
	if err != nil {
		return err
	}
	fullNew, err := r.resolvePath(newPath)
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf("mkdir -p %s && mv %s %s",
		shellQuote(path.Dir(fullNew)), shellQuote(fullOld), shellQuote(fullNew))
	start := time.Now()
	_, stderr, exit, err := r.runShell(ctx, cmd, nil)
	r.emit(oplog.OpRename, oldPath, err == nil && exit == 0, time.Since(start), err)
	if err != nil {
		return err
	}
	if exit != 0 {
		return backend.ErrWriteFailed(oldPath, errors.New(strings.TrimSpace(stderr)))
	}
	return nil
}

func (r *Remote) Remove(ctx context.Context, p string, opts *backend.RemoveOptions) error {
	var flags string
	if opts != nil {
		if opts.Recursive {
			flags += " -r"
		}
		if opts.Force {
			flags += " -f"
		}
	}
	if flags == "" {
		flags = " -d"
	}
	return r.mutatePath(ctx, oplog.OpRemove, p, func(fullPath string) string {
		return "rm" + flags + " " + shellQuote(fullPath)
	})
}

func (r *Remote) emitExec(command string, result *backend.ExecResult, duration time.Duration, err error) {
	entry := oplog.NewEntry(oplog.OpExec, command)
	entry.WorkspacePath = r.rootDir
	entry.Duration = duration
	if result != nil {
		entry.Stdout = result.Stdout
		entry.Stderr = result.Stderr
		entry.ExitCode = result.ExitCode
		entry.Success = err == nil && result.ExitCode == 0
	}
	if err != nil {
		entry.Error = err.Error()
	}
	oplog.Emit(r.cfg.OpsLogger, entry)
}
