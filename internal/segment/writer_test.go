package segment_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wal-g/replstream/internal/segment"
)

func withSmallSegmentSize(t *testing.T) {
	t.Helper()
	original := segment.Size
	segment.SetSize(64)
	t.Cleanup(func() { segment.SetSize(original) })
}

func TestWriterOpenWriteFinishRenamesPartial(t *testing.T) {
	withSmallSegmentSize(t)
	dir := t.TempDir()

	w, err := segment.Open(dir, 1, 0, true)
	require.NoError(t, err)

	partialPath := filepath.Join(dir, segment.PartialName(1, 0))
	_, err = os.Stat(partialPath)
	require.NoError(t, err, "file should exist under its .partial name while open")

	require.NoError(t, w.Write(make([]byte, 64)))
	assert.Equal(t, uint64(64), w.BytesWritten())

	require.NoError(t, w.Finish())

	_, err = os.Stat(partialPath)
	assert.True(t, os.IsNotExist(err), ".partial file should be gone after rename")

	finalPath := filepath.Join(dir, segment.Name(1, 0))
	info, err := os.Stat(finalPath)
	require.NoError(t, err)
	assert.EqualValues(t, 64, info.Size())
}

func TestWriterNoRenameMode(t *testing.T) {
	withSmallSegmentSize(t)
	dir := t.TempDir()

	w, err := segment.Open(dir, 1, 0, false)
	require.NoError(t, err)
	require.NoError(t, w.Write(make([]byte, 64)))
	require.NoError(t, w.Finish())

	_, err = os.Stat(filepath.Join(dir, segment.Name(1, 0)))
	assert.NoError(t, err)
}

func TestWriterRejectsOverflow(t *testing.T) {
	withSmallSegmentSize(t)
	dir := t.TempDir()

	w, err := segment.Open(dir, 1, 0, true)
	require.NoError(t, err)

	err = w.Write(make([]byte, 65))
	assert.Error(t, err)
}

func TestWriterFinishRequiresFullSegment(t *testing.T) {
	withSmallSegmentSize(t)
	dir := t.TempDir()

	w, err := segment.Open(dir, 1, 0, true)
	require.NoError(t, err)
	require.NoError(t, w.Write(make([]byte, 32)))

	err = w.Finish()
	assert.Error(t, err)
}

func TestWriterOpenFailsOnExistingFile(t *testing.T) {
	withSmallSegmentSize(t)
	dir := t.TempDir()

	_, err := segment.Open(dir, 1, 0, true)
	require.NoError(t, err)

	_, err = segment.Open(dir, 1, 0, true)
	assert.Error(t, err, "O_CREAT|O_EXCL must reject a second Open of the same segment")
}

func TestWriterAbortLeavesFileInPlace(t *testing.T) {
	withSmallSegmentSize(t)
	dir := t.TempDir()

	w, err := segment.Open(dir, 1, 0, true)
	require.NoError(t, err)
	require.NoError(t, w.Write(make([]byte, 16)))

	w.Abort()

	info, err := os.Stat(filepath.Join(dir, segment.PartialName(1, 0)))
	require.NoError(t, err)
	assert.EqualValues(t, 16, info.Size())
}
