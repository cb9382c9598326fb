package backend_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspects-ai/agent-backend/engine/backend"
	"github.com/aspects-ai/agent-backend/engine/backend/memory"
	"github.com/aspects-ai/agent-backend/engine/core"
)

func newMemoryBackend(t *testing.T) backend.Backend {
	t.Helper()
	b, err := memory.New(&memory.Config{RootDir: "/workspace"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Destroy(context.Background()) })
	return b
}

func TestScoped(t *testing.T) {
	ctx := context.Background()

	t.Run("Should confine file operations to the scope directory", func(t *testing.T) {
		parent := newMemoryBackend(t)
		scope, err := parent.Scope("users/alice", nil)
		require.NoError(t, err)

		require.NoError(t, scope.Write(ctx, "notes.txt", []byte("hi")))

		content, err := parent.Read(ctx, "users/alice/notes.txt")
		require.NoError(t, err)
		assert.Equal(t, "hi", string(content))
	})

	t.Run("Should read back through the scope", func(t *testing.T) {
		parent := newMemoryBackend(t)
		scope, err := parent.Scope("team", nil)
		require.NoError(t, err)
		require.NoError(t, parent.Write(ctx, "team/shared.txt", []byte("data")))

		content, err := scope.Read(ctx, "shared.txt")
		require.NoError(t, err)
		assert.Equal(t, "data", string(content))
	})

	t.Run("Should reject scope creation above the parent root", func(t *testing.T) {
		parent := newMemoryBackend(t)
		_, err := parent.Scope("../outside", nil)
		require.Error(t, err)
		assert.Equal(t, "PATH_ESCAPE_ATTEMPT", core.CodeOf(err))
	})

	t.Run("Should reject traversal out of the scope", func(t *testing.T) {
		parent := newMemoryBackend(t)
		require.NoError(t, parent.Write(ctx, "secret.txt", []byte("parent-only")))
		scope, err := parent.Scope("sandbox", nil)
		require.NoError(t, err)

		_, err = scope.Read(ctx, "../secret.txt")
		require.Error(t, err)
		assert.Equal(t, "PATH_ESCAPE_ATTEMPT", core.CodeOf(err))
	})

	t.Run("Should translate absolute paths inside the scope root", func(t *testing.T) {
		parent := newMemoryBackend(t)
		scope, err := parent.Scope("proj", nil)
		require.NoError(t, err)
		require.NoError(t, scope.Write(ctx, "/workspace/proj/file.txt", []byte("ok")))

		content, err := scope.Read(ctx, "file.txt")
		require.NoError(t, err)
		assert.Equal(t, "ok", string(content))
	})

	t.Run("Should reject absolute paths outside the scope root", func(t *testing.T) {
		parent := newMemoryBackend(t)
		scope, err := parent.Scope("proj", nil)
		require.NoError(t, err)

		err = scope.Write(ctx, "/workspace/other/file.txt", []byte("no"))
		require.Error(t, err)
		assert.Equal(t, "PATH_ESCAPE_ATTEMPT", core.CodeOf(err))
	})

	t.Run("Should expose the combined root dir", func(t *testing.T) {
		parent := newMemoryBackend(t)
		scope, err := parent.Scope("users/bob", nil)
		require.NoError(t, err)
		assert.Equal(t, "/workspace/users/bob", scope.RootDir())
		assert.Equal(t, parent.Type(), scope.Type())
	})

	t.Run("Should list immediate children of the scope", func(t *testing.T) {
		parent := newMemoryBackend(t)
		scope, err := parent.Scope("dir", nil)
		require.NoError(t, err)
		require.NoError(t, scope.Write(ctx, "a.txt", nil))
		require.NoError(t, scope.Write(ctx, "b.txt", nil))

		names, err := scope.List(ctx, ".")
		require.NoError(t, err)
		assert.Equal(t, []string{"a.txt", "b.txt"}, names)
	})
}

func TestScopedNesting(t *testing.T) {
	ctx := context.Background()

	t.Run("Should flatten nested scopes onto the root parent", func(t *testing.T) {
		parent := newMemoryBackend(t)
		outer, err := parent.Scope("outer", nil)
		require.NoError(t, err)
		inner, err := outer.Scope("inner", nil)
		require.NoError(t, err)

		require.NoError(t, inner.Write(ctx, "deep.txt", []byte("nested")))

		content, err := parent.Read(ctx, "outer/inner/deep.txt")
		require.NoError(t, err)
		assert.Equal(t, "nested", string(content))

		scoped, ok := inner.(*backend.Scoped)
		require.True(t, ok)
		assert.Same(t, parent, scoped.Parent())
	})

	t.Run("Should reject nested scope paths that leave the outer boundary", func(t *testing.T) {
		parent := newMemoryBackend(t)
		require.NoError(t, parent.Mkdir(ctx, "sibling"))
		outer, err := parent.Scope("outer", nil)
		require.NoError(t, err)

		_, err = outer.Scope("../sibling", nil)
		require.Error(t, err)
		assert.Equal(t, "PATH_ESCAPE_ATTEMPT", core.CodeOf(err))
	})

	t.Run("Should track nested scopes on the root parent", func(t *testing.T) {
		parent := newMemoryBackend(t)
		outer, err := parent.Scope("outer", nil)
		require.NoError(t, err)
		_, err = outer.Scope("inner", nil)
		require.NoError(t, err)

		scopes := parent.ActiveScopes()
		assert.Contains(t, scopes, "outer")
		assert.Contains(t, scopes, "outer/inner")
	})
}

type recordingCloser struct {
	closes int
}

func (c *recordingCloser) Close() error {
	c.closes++
	return nil
}

func TestScopedLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("Should close tracked resources on scope destroy", func(t *testing.T) {
		parent := newMemoryBackend(t)
		scope, err := parent.Scope("tmp", nil)
		require.NoError(t, err)
		closer := &recordingCloser{}
		scope.TrackCloseable(closer)

		require.NoError(t, scope.Destroy(ctx))
		assert.Equal(t, 1, closer.closes)
	})

	t.Run("Should close scope resources when the parent is destroyed", func(t *testing.T) {
		parent := newMemoryBackend(t)
		scope, err := parent.Scope("tmp", nil)
		require.NoError(t, err)
		closer := &recordingCloser{}
		scope.TrackCloseable(closer)

		require.NoError(t, parent.Destroy(ctx))
		assert.Equal(t, 1, closer.closes)
	})

	t.Run("Should close each resource once across scope and parent destroy", func(t *testing.T) {
		parent := newMemoryBackend(t)
		scope, err := parent.Scope("tmp", nil)
		require.NoError(t, err)
		closer := &recordingCloser{}
		scope.TrackCloseable(closer)

		require.NoError(t, scope.Destroy(ctx))
		require.NoError(t, parent.Destroy(ctx))
		assert.Equal(t, 1, closer.closes)
	})

	t.Run("Should detach from the parent on destroy", func(t *testing.T) {
		parent := newMemoryBackend(t)
		scope, err := parent.Scope("tmp", nil)
		require.NoError(t, err)
		require.Contains(t, parent.ActiveScopes(), "tmp")

		require.NoError(t, scope.Destroy(ctx))
		assert.Empty(t, parent.ActiveScopes())
	})

	t.Run("Should fail operations after destroy", func(t *testing.T) {
		parent := newMemoryBackend(t)
		scope, err := parent.Scope("tmp", nil)
		require.NoError(t, err)
		require.NoError(t, scope.Destroy(ctx))

		err = scope.Write(ctx, "file.txt", []byte("late"))
		require.Error(t, err)
		assert.Equal(t, "BACKEND_DESTROYED", core.CodeOf(err))
	})

	t.Run("Should tolerate a double destroy", func(t *testing.T) {
		parent := newMemoryBackend(t)
		scope, err := parent.Scope("tmp", nil)
		require.NoError(t, err)
		require.NoError(t, scope.Destroy(ctx))
		assert.NoError(t, scope.Destroy(ctx))
	})
}
