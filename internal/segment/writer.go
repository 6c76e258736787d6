package segment

import (
	"os"
	"path/filepath"

	"github.com/wal-g/replstream/internal/streaming"
)

// Writer performs durable, append-only writes to a single WAL segment
// file, per spec.md §4.3. A Writer is used exactly once: Open, some
// number of Write calls, then exactly one of Finish or Abort.
type Writer struct {
	baseDir      string
	finalName    string
	openName     string
	renamePartial bool

	file         *os.File
	bytesWritten uint64
}

// Open creates the target file exclusively (O_CREAT|O_EXCL) under
// baseDir. When renamePartial is true the file is created with a
// ".partial" suffix and renamed to its final name on Finish; when
// false it is created with its final name directly and Finish performs
// no rename. Open fails if the target file already exists.
func Open(baseDir string, timeline uint32, pos Position, renamePartial bool) (*Writer, error) {
	finalName := Name(timeline, pos)
	openName := finalName
	if renamePartial {
		openName = finalName + ".partial"
	}

	path := filepath.Join(baseDir, openName)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, streaming.NewIoError(err, "Open: could not exclusively create segment file %s", path)
	}

	return &Writer{
		baseDir:       baseDir,
		finalName:     finalName,
		openName:      openName,
		renamePartial: renamePartial,
		file:          file,
	}, nil
}

// BytesWritten is the running, in-memory count of bytes appended so
// far; no seek is ever needed to learn the current offset.
func (w *Writer) BytesWritten() uint64 {
	return w.bytesWritten
}

// Name is the segment's final (non-partial) filename.
func (w *Writer) Name() string {
	return w.finalName
}

// Write appends data, retrying on short writes until all bytes are
// consumed or an error occurs. It never lets bytesWritten exceed
// Size — callers are responsible for slicing frames at segment
// boundaries before calling Write (see walstream's spanning loop).
func (w *Writer) Write(data []byte) error {
	if w.bytesWritten+uint64(len(data)) > Size {
		return streaming.NewProtocolError(
			"Write: %d bytes would overflow segment %s past %d bytes", len(data), w.finalName, Size)
	}

	for len(data) > 0 {
		n, err := w.file.Write(data)
		if err != nil {
			return streaming.NewIoError(err, "Write: failed writing to segment %s", w.openName)
		}
		data = data[n:]
		w.bytesWritten += uint64(n)
	}
	return nil
}

// Finish is called once bytesWritten == Size. It fsyncs the file,
// closes it, and — if the writer was opened in rename-partial mode —
// renames the ".partial" file to its final name and fsyncs the
// containing directory so the rename itself is durable.
func (w *Writer) Finish() error {
	if w.bytesWritten != Size {
		return streaming.NewProtocolError(
			"Finish: segment %s has %d bytes, expected %d", w.finalName, w.bytesWritten, Size)
	}

	if err := w.file.Sync(); err != nil {
		return streaming.NewIoError(err, "Finish: fsync failed for segment %s", w.openName)
	}
	if err := w.file.Close(); err != nil {
		return streaming.NewIoError(err, "Finish: close failed for segment %s", w.openName)
	}

	if w.renamePartial {
		oldPath := filepath.Join(w.baseDir, w.openName)
		newPath := filepath.Join(w.baseDir, w.finalName)
		if err := os.Rename(oldPath, newPath); err != nil {
			return streaming.NewIoError(err, "Finish: could not rename %s to %s", oldPath, newPath)
		}
		if err := fsyncDir(w.baseDir); err != nil {
			return err
		}
	}
	return nil
}

// Abort is called on unexpected termination: the file is closed
// without fsync and no rename happens, leaving whatever partial bytes
// were written on disk for the next run's discovery procedure to find.
func (w *Writer) Abort() {
	_ = w.file.Close()
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return streaming.NewIoError(err, "fsyncDir: could not open %s", dir)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return streaming.NewIoError(err, "fsyncDir: fsync failed for %s", dir)
	}
	return nil
}
