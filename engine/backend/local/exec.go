package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/aspects-ai/agent-backend/engine/backend"
	"github.com/aspects-ai/agent-backend/engine/oplog"
	"github.com/aspects-ai/agent-backend/engine/pathres"
	"github.com/aspects-ai/agent-backend/engine/safety"
	"github.com/aspects-ai/agent-backend/engine/sandbox"
)

// truncationMarker is appended to stdout when captured output hit the cap.
const truncationMarker = "\n[output truncated]"

var errMissingRoot = errors.New("root directory is required")

func errUnknownIsolation(isolation backend.Isolation) error {
	return fmt.Errorf("unknown isolation mode: %q", isolation)
}

// Exec runs a shell command inside the workspace. The command is classified
// before any process is spawned; a non-zero exit status is reported through
// the result, not the error.
func (l *Local) Exec(ctx context.Context, command string, opts *backend.ExecOptions) (*backend.ExecResult, error) {
	if err := l.checkLive("exec"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(command) == "" {
		return nil, backend.ErrEmptyCommand()
	}
	if blocked, err := l.classify(command); err != nil {
		return nil, err
	} else if blocked {
		return &backend.ExecResult{}, nil
	}

	workDir, err := l.execWorkDir(opts)
	if err != nil {
		return nil, err
	}

	var extraEnv map[string]string
	if opts != nil {
		extraEnv = opts.Env
	}

	start := time.Now()
	result, err := l.runCommand(ctx, command, workDir, extraEnv)
	duration := time.Since(start)

	l.emitExec(command, result, duration, err)
	if err != nil {
		return nil, err
	}
	result.Duration = duration
	return result, nil
}

// classify applies the danger classifier. It reports blocked=true when the
// command was rejected but a danger callback handled the rejection.
func (l *Local) classify(command string) (blocked bool, err error) {
	if l.allowDangerous || l.isolation == backend.IsolationNone {
		return false, nil
	}
	check := safety.Check(command, l.safetyCfg)
	if check.Safe {
		return false, nil
	}
	if l.onDangerous != nil {
		l.onDangerous(command)
		return true, nil
	}
	return false, backend.ErrDangerous(command, check.Category, check.Reason)
}

// execWorkDir resolves the per-call working directory, defaulting to the
// workspace root.
func (l *Local) execWorkDir(opts *backend.ExecOptions) (string, error) {
	if opts == nil || opts.Cwd == "" {
		return l.rootDir, nil
	}
	if l.isolation == backend.IsolationNone {
		return opts.Cwd, nil
	}
	if err := pathres.EnsureWithinRoot(l.rootDir, opts.Cwd); err != nil {
		return "", backend.ErrPathEscape(opts.Cwd, err)
	}
	return opts.Cwd, nil
}

func (l *Local) runCommand(ctx context.Context, command, workDir string, extraEnv map[string]string) (*backend.ExecResult, error) {
	if l.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opTimeout)
		defer cancel()
	}

	cmd, err := l.buildCommand(ctx, command, workDir, extraEnv)
	if err != nil {
		return nil, err
	}

	stdout := backend.NewOutputBuffer(l.maxOutput)
	stderr := backend.NewOutputBuffer(l.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, backend.ErrExecFailed(command, err)
	}
	waitErr := cmd.Wait()

	if ctx.Err() == context.DeadlineExceeded {
		return &backend.ExecResult{
			Stdout:    stdout.String(),
			Stderr:    stderr.String(),
			ExitCode:  -1,
			TimedOut:  true,
			Truncated: stdout.Truncated() || stderr.Truncated(),
		}, backend.ErrTimeout(command, ctx.Err())
	}

	result := &backend.ExecResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}
	if result.Truncated {
		result.Stdout += truncationMarker
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, backend.ErrExecFailed(command, waitErr)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}

// buildCommand assembles the process for the active isolation mode. Namespace
// isolation wraps the shell in a bwrap sandbox; the other modes spawn the
// shell directly with HOME rebound to the working directory.
func (l *Local) buildCommand(ctx context.Context, command, workDir string, extraEnv map[string]string) (*exec.Cmd, error) {
	var cmd *exec.Cmd
	if l.isolation == backend.IsolationNamespace {
		relWork, err := l.sandboxWorkDir(workDir)
		if err != nil {
			return nil, err
		}
		argv, _, err := sandbox.NewBuilder().Build(&sandbox.Options{
			RootDir:  l.rootDir,
			WorkDir:  relWork,
			Shell:    l.shell,
			Command:  command,
			ShareNet: true,
		})
		if err != nil {
			return nil, backend.ErrExecFailed(command, err)
		}
		cmd = exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Env = backend.MergeEnviron(os.Environ(), extraEnv)
	} else {
		cmd = exec.CommandContext(ctx, l.shell, "-c", command)
		cmd.Dir = workDir
		cmd.Env = backend.MergeEnviron(backend.ProcessEnviron(workDir, nil), extraEnv)
	}
	setProcessGroup(cmd)
	return cmd, nil
}

func (l *Local) sandboxWorkDir(workDir string) (string, error) {
	rel, ok := pathres.RelativeWithinRoot(l.rootDir, workDir)
	if !ok {
		return "", backend.ErrPathEscape(workDir, pathres.ErrEscape)
	}
	return rel, nil
}

// setProcessGroup places the child in its own process group and kills the
// whole group on context cancellation, so shell pipelines cannot leak
// grandchildren past a timeout.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second
}

func (l *Local) emitExec(command string, result *backend.ExecResult, duration time.Duration, err error) {
	entry := oplog.NewEntry(oplog.OpExec, command)
	entry.WorkspacePath = l.rootDir
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
	oplog.Emit(l.opsLogger, entry)
}
