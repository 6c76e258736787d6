package basebackup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureEmptyOrCreateMakesAbsentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fresh")
	require.NoError(t, EnsureEmptyOrCreate(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestEnsureEmptyOrCreateAcceptsEmptyDir(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, EnsureEmptyOrCreate(dir))
}

func TestEnsureEmptyOrCreateRejectsNonEmptyDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "leftover"), []byte("x"), 0600))

	err := EnsureEmptyOrCreate(dir)
	assert.Error(t, err)
}

// spec.md §4.4 step 3: every non-first tablespace's target is checked
// up front, before any tablespace's archive starts unpacking.
func TestValidateTablespaceTargetsChecksAllNonFirstUpFront(t *testing.T) {
	spc1 := t.TempDir()
	spc2 := filepath.Join(t.TempDir(), "fresh")

	descriptors := []TablespaceDescriptor{
		{},
		{Location: &spc1},
		{Location: &spc2},
	}
	require.NoError(t, validateTablespaceTargets(descriptors))

	info, err := os.Stat(spc2)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestValidateTablespaceTargetsRejectsNonEmptyLocation(t *testing.T) {
	spc1 := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(spc1, "leftover"), []byte("x"), 0600))

	descriptors := []TablespaceDescriptor{{}, {Location: &spc1}}
	assert.Error(t, validateTablespaceTargets(descriptors))
}

func TestValidateTablespaceTargetsRejectsMissingLocation(t *testing.T) {
	descriptors := []TablespaceDescriptor{{}, {Location: nil}}
	assert.Error(t, validateTablespaceTargets(descriptors))
}
