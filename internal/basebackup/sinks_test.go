package basebackup

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)
	require.NoError(t, w.WriteHeader(&tar.Header{Name: "PG_VERSION", Typeflag: tar.TypeReg, Mode: 0600, Size: 2}))
	_, err := w.Write([]byte("16"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// spec.md §8 scenario S5: total bytes written equal the COPY payload
// plus the 1024-byte sentinel TarFileSink appends itself.
func TestTarFileSinkAppendsSentinel(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("not actually a tar archive, just some bytes")

	sink := NewTarFileSink(dir, 0)
	require.NoError(t, sink.Open(TablespaceDescriptor{}, 0))
	require.NoError(t, sink.Write(payload))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(filepath.Join(dir, "base.tar"))
	require.NoError(t, err)
	assert.Len(t, data, len(payload)+1024)
	assert.Equal(t, payload, data[:len(payload)])
	assert.Equal(t, make([]byte, 1024), data[len(payload):])
}

func TestTarFileSinkNamesAdditionalTablespaceBySpcoid(t *testing.T) {
	dir := t.TempDir()
	oid := uint32(16401)

	sink := NewTarFileSink(dir, 0)
	require.NoError(t, sink.Open(TablespaceDescriptor{Spcoid: &oid}, 1))
	require.NoError(t, sink.Write([]byte("x")))
	require.NoError(t, sink.Close())

	_, err := os.Stat(filepath.Join(dir, "16401.tar"))
	assert.NoError(t, err)
}

func TestTarFileSinkGzipRoundTrips(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("compress me")

	sink := NewTarFileSink(dir, 6)
	require.NoError(t, sink.Open(TablespaceDescriptor{}, 0))
	require.NoError(t, sink.Write(payload))
	require.NoError(t, sink.Close())

	f, err := os.Open(filepath.Join(dir, "base.tar.gz"))
	require.NoError(t, err)
	defer f.Close()

	gr, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gr.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(gr)
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, payload...), make([]byte, 1024)...), out.Bytes())
}

func TestTreeSinkMaterializesEntries(t *testing.T) {
	baseDir := t.TempDir()
	sink := NewTreeSink(baseDir)

	require.NoError(t, sink.Open(TablespaceDescriptor{}, 0))
	require.NoError(t, sink.Write(buildTestArchive(t)))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(filepath.Join(baseDir, "PG_VERSION"))
	require.NoError(t, err)
	assert.Equal(t, "16", string(data))
}

func TestTreeSinkSecondTablespaceUsesItsOwnLocation(t *testing.T) {
	baseDir := t.TempDir()
	spcDir := filepath.Join(t.TempDir(), "spc1")
	require.NoError(t, os.MkdirAll(spcDir, 0700))

	sink := NewTreeSink(baseDir)
	oid := uint32(20000)
	require.NoError(t, sink.Open(TablespaceDescriptor{Spcoid: &oid, Location: &spcDir}, 1))
	require.NoError(t, sink.Write(buildTestArchive(t)))
	require.NoError(t, sink.Close())

	_, err := os.Stat(filepath.Join(spcDir, "PG_VERSION"))
	assert.NoError(t, err)
}

// spec.md §8 scenario S6: a tar entry with an unrecognized typeflag
// aborts with a ProtocolError.
func TestTreeSinkRejectsUnknownTypeflag(t *testing.T) {
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)
	require.NoError(t, w.WriteHeader(&tar.Header{Name: "weird", Typeflag: tar.TypeReg}))
	require.NoError(t, w.Close())

	// archive/tar refuses to encode typeflag 'x' itself, so it is patched
	// into the header block afterwards; the parser does not verify the
	// header checksum.
	archive := buf.Bytes()
	archive[156] = 'x'

	sink := NewTreeSink(t.TempDir())
	require.NoError(t, sink.Open(TablespaceDescriptor{}, 0))

	err := sink.Write(archive)
	assert.Error(t, err)
}
