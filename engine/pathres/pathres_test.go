package pathres

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	root := t.TempDir()

	t.Run("Should resolve empty path to the root", func(t *testing.T) {
		resolved, err := Resolve(root, "")
		require.NoError(t, err)
		assert.Equal(t, filepath.Clean(root), resolved)
	})

	t.Run("Should resolve dot to the root", func(t *testing.T) {
		resolved, err := Resolve(root, ".")
		require.NoError(t, err)
		assert.Equal(t, filepath.Clean(root), resolved)
	})

	t.Run("Should resolve a nested relative path", func(t *testing.T) {
		resolved, err := Resolve(root, "a/b/c.txt")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "a", "b", "c.txt"), resolved)
	})

	t.Run("Should collapse redundant segments", func(t *testing.T) {
		resolved, err := Resolve(root, "a/./b/../c.txt")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "a", "c.txt"), resolved)
	})

	t.Run("Should reject absolute paths", func(t *testing.T) {
		_, err := Resolve(root, "/etc/passwd")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEscape)
	})

	t.Run("Should reject home directory references", func(t *testing.T) {
		_, err := Resolve(root, "~/secrets")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEscape)
	})

	t.Run("Should reject traversal above the root", func(t *testing.T) {
		_, err := Resolve(root, "../outside")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEscape)
	})

	t.Run("Should reject traversal hidden in a deep path", func(t *testing.T) {
		_, err := Resolve(root, "a/b/../../../outside")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEscape)
	})

	t.Run("Should not be fooled by sibling prefix roots", func(t *testing.T) {
		_, err := Resolve(root, "../"+filepath.Base(root)+"-evil/file")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEscape)
	})
}

func TestEnsureWithinRoot(t *testing.T) {
	root := t.TempDir()

	t.Run("Should accept the root itself", func(t *testing.T) {
		assert.NoError(t, EnsureWithinRoot(root, root))
	})

	t.Run("Should accept a descendant", func(t *testing.T) {
		assert.NoError(t, EnsureWithinRoot(root, filepath.Join(root, "sub", "file")))
	})

	t.Run("Should reject a path outside the root", func(t *testing.T) {
		err := EnsureWithinRoot(root, "/etc/passwd")
		assert.ErrorIs(t, err, ErrEscape)
	})

	t.Run("Should reject a sibling with a shared prefix", func(t *testing.T) {
		err := EnsureWithinRoot(root, root+"-evil")
		assert.ErrorIs(t, err, ErrEscape)
	})
}

func TestRelativeWithinRoot(t *testing.T) {
	root := t.TempDir()

	t.Run("Should translate an absolute descendant to relative form", func(t *testing.T) {
		rel, ok := RelativeWithinRoot(root, filepath.Join(root, "a", "b"))
		require.True(t, ok)
		assert.Equal(t, filepath.Join("a", "b"), rel)
	})

	t.Run("Should translate the root itself to dot", func(t *testing.T) {
		rel, ok := RelativeWithinRoot(root, root)
		require.True(t, ok)
		assert.Equal(t, ".", rel)
	})

	t.Run("Should not translate relative paths", func(t *testing.T) {
		_, ok := RelativeWithinRoot(root, "a/b")
		assert.False(t, ok)
	})

	t.Run("Should not translate absolute paths outside the root", func(t *testing.T) {
		_, ok := RelativeWithinRoot(root, "/etc")
		assert.False(t, ok)
	})
}

func TestJoin(t *testing.T) {
	t.Run("Should join a relative path under a boundary", func(t *testing.T) {
		joined, err := Join("scope", "a/b")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("scope", "a", "b"), joined)
	})

	t.Run("Should keep the boundary for empty input", func(t *testing.T) {
		joined, err := Join("scope", "")
		require.NoError(t, err)
		assert.Equal(t, "scope", joined)
	})

	t.Run("Should reject traversal above the boundary", func(t *testing.T) {
		_, err := Join("scope", "../outside")
		assert.ErrorIs(t, err, ErrEscape)
	})
}
