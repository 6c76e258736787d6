package walstream

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wal-g/replstream/internal/segment"
)

func withTestSegmentSize(t *testing.T) {
	t.Helper()
	original := segment.Size
	segment.SetSize(16 * 1024 * 1024)
	t.Cleanup(func() { segment.SetSize(original) })
}

func writeFile(t *testing.T, dir, name string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0600))
}

// spec.md §8 scenario S2: a completed segment and a stale, smaller
// partial segment are both present; discovery resumes past the
// completed one and renames the short file out of the way.
func TestFindStreamingStartRenamesStalePartial(t *testing.T) {
	withTestSegmentSize(t)
	dir := t.TempDir()

	writeFile(t, dir, "000000010000000000000001", int(segment.Size))
	writeFile(t, dir, "000000010000000000000002", 8*1024*1024)

	pos, err := findStreamingStart(dir, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, segment.EndOf(segment.StartPosition(0, 1)), pos)

	_, err = os.Stat(filepath.Join(dir, "000000010000000000000002.partial"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "000000010000000000000002"))
	assert.True(t, os.IsNotExist(err))
}

// Empty basedir: discovery falls back to the server-reported position.
func TestFindStreamingStartEmptyDirFallsBackToServerPosition(t *testing.T) {
	withTestSegmentSize(t)
	dir := t.TempDir()

	serverPos := segment.Position(0x01800000)
	pos, err := findStreamingStart(dir, 1, serverPos)
	require.NoError(t, err)
	assert.Equal(t, serverPos, pos)
}

// Segments on a different timeline are ignored entirely.
func TestFindStreamingStartIgnoresOtherTimelines(t *testing.T) {
	withTestSegmentSize(t)
	dir := t.TempDir()

	writeFile(t, dir, "000000020000000000000001", int(segment.Size))

	serverPos := segment.Position(0x01800000)
	pos, err := findStreamingStart(dir, 1, serverPos)
	require.NoError(t, err)
	assert.Equal(t, serverPos, pos)
}

// Non-segment filenames (wrong length, non-hex, or already ".partial")
// are skipped rather than erroring.
func TestFindStreamingStartSkipsUnrelatedFiles(t *testing.T) {
	withTestSegmentSize(t)
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "archive_status"), nil, 0600))
	writeFile(t, dir, "00000001000000000000000G", 0)
	writeFile(t, dir, "000000010000000000000002.partial", 1024)
	writeFile(t, dir, "000000010000000000000001", int(segment.Size))

	pos, err := findStreamingStart(dir, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, segment.EndOf(segment.StartPosition(0, 1)), pos)
}
