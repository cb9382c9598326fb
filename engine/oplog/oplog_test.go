package oplog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldLog(t *testing.T) {
	t.Run("Should log only modifying operations in standard mode", func(t *testing.T) {
		assert.True(t, ShouldLog(OpExec, ModeStandard))
		assert.True(t, ShouldLog(OpWrite, ModeStandard))
		assert.True(t, ShouldLog(OpRemove, ModeStandard))
		assert.False(t, ShouldLog(OpRead, ModeStandard))
		assert.False(t, ShouldLog(OpList, ModeStandard))
		assert.False(t, ShouldLog(OpExists, ModeStandard))
		assert.False(t, ShouldLog(OpStat, ModeStandard))
	})

	t.Run("Should log everything in verbose mode", func(t *testing.T) {
		for _, op := range []Operation{OpExec, OpRead, OpWrite, OpList, OpExists, OpStat} {
			assert.True(t, ShouldLog(op, ModeVerbose), string(op))
		}
	})
}

func TestEmit(t *testing.T) {
	t.Run("Should tolerate a nil logger", func(t *testing.T) {
		assert.NotPanics(t, func() { Emit(nil, NewEntry(OpWrite, "file.txt")) })
	})

	t.Run("Should filter by the logger mode", func(t *testing.T) {
		rec := NewRecorder(ModeStandard)
		Emit(rec, NewEntry(OpRead, "file.txt"))
		Emit(rec, NewEntry(OpWrite, "file.txt"))

		entries := rec.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, OpWrite, entries[0].Operation)
	})
}

func TestNewEntry(t *testing.T) {
	t.Run("Should stamp an ID and timestamp", func(t *testing.T) {
		entry := NewEntry(OpExec, "echo hi")
		assert.NotEmpty(t, entry.ID)
		assert.False(t, entry.Timestamp.IsZero())
		assert.Equal(t, OpExec, entry.Operation)
		assert.Equal(t, "echo hi", entry.Command)
	})

	t.Run("Should give each entry a distinct ID", func(t *testing.T) {
		assert.NotEqual(t, NewEntry(OpExec, "a").ID, NewEntry(OpExec, "a").ID)
	})
}

func TestRecorder(t *testing.T) {
	t.Run("Should record and filter entries", func(t *testing.T) {
		rec := NewRecorder(ModeVerbose)
		rec.Log(NewEntry(OpRead, "a.txt"))
		rec.Log(NewEntry(OpWrite, "b.txt"))
		rec.Log(NewEntry(OpWrite, "c.txt"))

		assert.Equal(t, 3, rec.Len())
		assert.Len(t, rec.EntriesByOperation(OpWrite), 2)
		assert.Len(t, rec.EntriesByOperation(OpRemove), 0)
	})

	t.Run("Should clear recorded entries", func(t *testing.T) {
		rec := NewRecorder(ModeVerbose)
		rec.Log(NewEntry(OpWrite, "a.txt"))
		rec.Clear()
		assert.Zero(t, rec.Len())
	})

	t.Run("Should default an empty mode to standard", func(t *testing.T) {
		rec := NewRecorder("")
		assert.Equal(t, ModeStandard, rec.Mode())
	})
}
