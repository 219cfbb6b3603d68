package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal_RecordAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	_, ok := j.Lookup("scf")
	assert.False(t, ok)

	require.NoError(t, j.Record("scf", "handle-1"))
	h, ok := j.Lookup("scf")
	require.True(t, ok)
	assert.EqualValues(t, "handle-1", h)
}

func TestJournal_ReplayAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Record("scf", "handle-1"))
	require.NoError(t, j.Record("hp", "handle-2"))
	require.NoError(t, j.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	h, ok := reopened.Lookup("scf")
	require.True(t, ok)
	assert.EqualValues(t, "handle-1", h)
	h, ok = reopened.Lookup("hp")
	require.True(t, ok)
	assert.EqualValues(t, "handle-2", h)
}

func TestJournal_LaterEntriesWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Record("scf", "handle-1"))
	require.NoError(t, j.Record("scf", "handle-2"))
	require.NoError(t, j.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	h, ok := reopened.Lookup("scf")
	require.True(t, ok)
	assert.EqualValues(t, "handle-2", h)
}

func TestJournal_ForgetIsInMemoryOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Record("hp", "handle-1"))

	j.Forget("hp")
	_, ok := j.Lookup("hp")
	assert.False(t, ok, "a forgotten item resubmits")
	require.NoError(t, j.Close())

	// The on-disk history is untouched.
	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	h, ok := reopened.Lookup("hp")
	require.True(t, ok)
	assert.EqualValues(t, "handle-1", h)
}

func TestJournal_NilIsNoOp(t *testing.T) {
	var j *Journal
	require.NoError(t, j.Record("scf", "handle-1"))
	_, ok := j.Lookup("scf")
	assert.False(t, ok)
	j.Forget("scf")
	require.NoError(t, j.Close())
}
