package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeEnviron(t *testing.T) {
	t.Run("Should return the base unchanged without extras", func(t *testing.T) {
		base := []string{"A=1", "B=2"}
		assert.Equal(t, base, MergeEnviron(base, nil))
	})

	t.Run("Should override colliding keys", func(t *testing.T) {
		merged := MergeEnviron([]string{"A=1", "B=2"}, map[string]string{"B": "override"})
		assert.Contains(t, merged, "A=1")
		assert.Contains(t, merged, "B=override")
		assert.NotContains(t, merged, "B=2")
	})

	t.Run("Should append new keys", func(t *testing.T) {
		merged := MergeEnviron([]string{"A=1"}, map[string]string{"C": "3"})
		assert.Contains(t, merged, "A=1")
		assert.Contains(t, merged, "C=3")
	})

	t.Run("Should drop malformed base entries", func(t *testing.T) {
		merged := MergeEnviron([]string{"MALFORMED", "A=1"}, map[string]string{"B": "2"})
		assert.NotContains(t, merged, "MALFORMED")
	})
}

func TestProcessEnviron(t *testing.T) {
	t.Run("Should rebind HOME to the working directory", func(t *testing.T) {
		env := ProcessEnviron("/work/space", nil)
		assert.Contains(t, env, "HOME=/work/space")
	})

	t.Run("Should let explicit overrides win over the HOME rebind", func(t *testing.T) {
		env := ProcessEnviron("/work/space", map[string]string{"HOME": "/custom"})
		assert.Contains(t, env, "HOME=/custom")
		assert.NotContains(t, env, "HOME=/work/space")
	})
}

func TestMergeEnvMaps(t *testing.T) {
	t.Run("Should return nil for empty inputs", func(t *testing.T) {
		assert.Nil(t, MergeEnvMaps(nil, nil))
	})

	t.Run("Should merge child over parent without mutating either", func(t *testing.T) {
		parent := map[string]string{"A": "1", "B": "2"}
		child := map[string]string{"B": "child", "C": "3"}

		merged := MergeEnvMaps(parent, child)

		assert.Equal(t, map[string]string{"A": "1", "B": "child", "C": "3"}, merged)
		assert.Equal(t, "2", parent["B"])
	})
}
