package local

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspects-ai/agent-backend/engine/backend"
	"github.com/aspects-ai/agent-backend/engine/core"
)

func newBackend(t *testing.T, mutate func(*Config)) *Local {
	t.Helper()
	cfg := &Config{
		RootDir:   t.TempDir(),
		Isolation: backend.IsolationSoftware,
	}
	if mutate != nil {
		mutate(cfg)
	}
	l, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Destroy(context.Background()) })
	return l
}

func TestNew(t *testing.T) {
	t.Run("Should create the root directory", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "nested", "workspace")
		l, err := New(&Config{RootDir: root, Isolation: backend.IsolationSoftware})
		require.NoError(t, err)
		defer func() { _ = l.Destroy(context.Background()) }()

		exists, err := l.Exists(context.Background(), ".")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("Should reject a nil config", func(t *testing.T) {
		_, err := New(nil)
		require.Error(t, err)
		assert.Equal(t, "INVALID_CONFIGURATION", core.CodeOf(err))
	})

	t.Run("Should reject an unknown isolation mode", func(t *testing.T) {
		_, err := New(&Config{RootDir: t.TempDir(), Isolation: "hardware"})
		require.Error(t, err)
		assert.Equal(t, "INVALID_CONFIGURATION", core.CodeOf(err))
	})
}

func TestExec(t *testing.T) {
	ctx := context.Background()

	t.Run("Should capture stdout and a zero exit code", func(t *testing.T) {
		l := newBackend(t, nil)
		result, err := l.Exec(ctx, "echo hello", nil)
		require.NoError(t, err)
		assert.Equal(t, "hello\n", result.Stdout)
		assert.Zero(t, result.ExitCode)
		assert.True(t, result.Success())
	})

	t.Run("Should report a non-zero exit through the result", func(t *testing.T) {
		l := newBackend(t, nil)
		result, err := l.Exec(ctx, "exit 3", nil)
		require.NoError(t, err)
		assert.Equal(t, 3, result.ExitCode)
		assert.False(t, result.Success())
	})

	t.Run("Should capture stderr separately", func(t *testing.T) {
		l := newBackend(t, nil)
		result, err := l.Exec(ctx, "echo oops >&2", nil)
		require.NoError(t, err)
		assert.Equal(t, "oops\n", result.Stderr)
		assert.Empty(t, result.Stdout)
	})

	t.Run("Should reject empty commands", func(t *testing.T) {
		l := newBackend(t, nil)
		_, err := l.Exec(ctx, "   ", nil)
		require.Error(t, err)
		assert.Equal(t, "EMPTY_COMMAND", core.CodeOf(err))
	})

	t.Run("Should block dangerous commands", func(t *testing.T) {
		l := newBackend(t, nil)
		_, err := l.Exec(ctx, "sudo rm -rf /", nil)
		require.Error(t, err)
		assert.Equal(t, "DANGEROUS_OPERATION", core.CodeOf(err))
	})

	t.Run("Should invoke the danger callback instead of failing", func(t *testing.T) {
		var blocked string
		l := newBackend(t, func(cfg *Config) {
			cfg.OnDangerous = func(command string) { blocked = command }
		})

		result, err := l.Exec(ctx, "sudo ls", nil)
		require.NoError(t, err)
		assert.Equal(t, "sudo ls", blocked)
		assert.Empty(t, result.Stdout)
	})

	t.Run("Should run dangerous commands when classification is off", func(t *testing.T) {
		l := newBackend(t, func(cfg *Config) { cfg.AllowDangerous = true })
		result, err := l.Exec(ctx, "echo cd-free && pwd", nil)
		require.NoError(t, err)
		assert.True(t, result.Success())
	})

	t.Run("Should run in the workspace root by default", func(t *testing.T) {
		l := newBackend(t, nil)
		result, err := l.Exec(ctx, "pwd", nil)
		require.NoError(t, err)
		assert.Equal(t, l.RootDir(), strings.TrimSpace(result.Stdout))
	})

	t.Run("Should rebind HOME to the working directory", func(t *testing.T) {
		l := newBackend(t, nil)
		result, err := l.Exec(ctx, "printenv HOME", nil)
		require.NoError(t, err)
		assert.Equal(t, l.RootDir(), strings.TrimSpace(result.Stdout))
	})

	t.Run("Should honor a cwd override inside the root", func(t *testing.T) {
		l := newBackend(t, nil)
		require.NoError(t, l.Mkdir(ctx, "sub"))
		result, err := l.Exec(ctx, "pwd", &backend.ExecOptions{
			Cwd: filepath.Join(l.RootDir(), "sub"),
		})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(l.RootDir(), "sub"), strings.TrimSpace(result.Stdout))
	})

	t.Run("Should reject a cwd outside the root", func(t *testing.T) {
		l := newBackend(t, nil)
		_, err := l.Exec(ctx, "pwd", &backend.ExecOptions{Cwd: "/etc"})
		require.Error(t, err)
		assert.Equal(t, "PATH_ESCAPE_ATTEMPT", core.CodeOf(err))
	})

	t.Run("Should pass extra environment variables", func(t *testing.T) {
		l := newBackend(t, nil)
		result, err := l.Exec(ctx, "printenv CUSTOM_VAR", &backend.ExecOptions{
			Env: map[string]string{"CUSTOM_VAR": "custom-value"},
		})
		require.NoError(t, err)
		assert.Equal(t, "custom-value", strings.TrimSpace(result.Stdout))
	})

	t.Run("Should time out long commands", func(t *testing.T) {
		l := newBackend(t, func(cfg *Config) { cfg.OpTimeout = 200 * time.Millisecond })
		_, err := l.Exec(ctx, "sleep 5", nil)
		require.Error(t, err)
		assert.Equal(t, "TIMEOUT", core.CodeOf(err))
	})

	t.Run("Should truncate oversized output with a marker", func(t *testing.T) {
		l := newBackend(t, func(cfg *Config) { cfg.MaxOutputBytes = 8 })
		result, err := l.Exec(ctx, "echo 0123456789abcdef", nil)
		require.NoError(t, err)
		assert.True(t, result.Truncated)
		assert.Equal(t, "01234567"+truncationMarker, result.Stdout)
	})
}

func TestFileOperations(t *testing.T) {
	ctx := context.Background()

	t.Run("Should round-trip file content", func(t *testing.T) {
		l := newBackend(t, nil)
		require.NoError(t, l.Write(ctx, "dir/file.txt", []byte("payload")))

		content, err := l.Read(ctx, "dir/file.txt")
		require.NoError(t, err)
		assert.Equal(t, "payload", string(content))
	})

	t.Run("Should reject escaping paths on every operation", func(t *testing.T) {
		l := newBackend(t, nil)
		for name, op := range map[string]func() error{
			"read":  func() error { _, err := l.Read(ctx, "../escape"); return err },
			"write": func() error { return l.Write(ctx, "../escape", nil) },
			"list":  func() error { _, err := l.List(ctx, "../escape"); return err },
			"mkdir": func() error { return l.Mkdir(ctx, "../escape") },
			"rm":    func() error { return l.Remove(ctx, "../escape", nil) },
		} {
			err := op()
			require.Error(t, err, name)
			assert.Equal(t, "PATH_ESCAPE_ATTEMPT", core.CodeOf(err), name)
		}
	})

	t.Run("Should accept absolute paths inside the root", func(t *testing.T) {
		l := newBackend(t, nil)
		require.NoError(t, l.Write(ctx, filepath.Join(l.RootDir(), "abs.txt"), []byte("ok")))

		content, err := l.Read(ctx, "abs.txt")
		require.NoError(t, err)
		assert.Equal(t, "ok", string(content))
	})

	t.Run("Should list sorted directory entries", func(t *testing.T) {
		l := newBackend(t, nil)
		require.NoError(t, l.Write(ctx, "d/b.txt", nil))
		require.NoError(t, l.Write(ctx, "d/a.txt", nil))

		names, err := l.List(ctx, "d")
		require.NoError(t, err)
		assert.Equal(t, []string{"a.txt", "b.txt"}, names)
	})

	t.Run("Should stat files and directories", func(t *testing.T) {
		l := newBackend(t, nil)
		require.NoError(t, l.Write(ctx, "f.txt", []byte("123")))
		require.NoError(t, l.Mkdir(ctx, "d"))

		fileInfo, err := l.Stat(ctx, "f.txt")
		require.NoError(t, err)
		assert.True(t, fileInfo.IsFile)
		assert.Equal(t, int64(3), fileInfo.Size)

		dirInfo, err := l.Stat(ctx, "d")
		require.NoError(t, err)
		assert.True(t, dirInfo.IsDir)
	})

	t.Run("Should rename into a new directory", func(t *testing.T) {
		l := newBackend(t, nil)
		require.NoError(t, l.Write(ctx, "a.txt", []byte("move me")))
		require.NoError(t, l.Rename(ctx, "a.txt", "moved/b.txt"))

		content, err := l.Read(ctx, "moved/b.txt")
		require.NoError(t, err)
		assert.Equal(t, "move me", string(content))
	})

	t.Run("Should remove recursively only when asked", func(t *testing.T) {
		l := newBackend(t, nil)
		require.NoError(t, l.Write(ctx, "tree/leaf.txt", nil))

		err := l.Remove(ctx, "tree", nil)
		require.Error(t, err)

		require.NoError(t, l.Remove(ctx, "tree", &backend.RemoveOptions{Recursive: true}))
		exists, err := l.Exists(ctx, "tree")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("Should fail operations after destroy", func(t *testing.T) {
		l, err := New(&Config{RootDir: t.TempDir(), Isolation: backend.IsolationSoftware})
		require.NoError(t, err)
		require.NoError(t, l.Destroy(ctx))

		_, readErr := l.Read(ctx, "any.txt")
		require.Error(t, readErr)
		assert.Equal(t, "BACKEND_DESTROYED", core.CodeOf(readErr))
	})
}

func TestDetectShell(t *testing.T) {
	t.Run("Should honor an explicit preference", func(t *testing.T) {
		assert.Equal(t, "sh", detectShell("sh"))
		assert.Equal(t, "bash", detectShell("bash"))
	})

	t.Run("Should fall back to detection for auto", func(t *testing.T) {
		shell := detectShell("auto")
		assert.Contains(t, []string{"bash", "sh"}, shell)
	})
}
