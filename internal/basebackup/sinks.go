package basebackup

import (
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/gzip"

	"github.com/wal-g/replstream/internal/streaming"
	"github.com/wal-g/replstream/internal/tarstream"
)

// sentinel is the trailing 1024 zero bytes TarFileSink appends after
// each tablespace's archive, since the server's COPY OUT payload does
// not itself carry the conventional tar end-of-archive marker.
var sentinel [1024]byte

// Sink receives one tablespace's archive bytes in order: Open, some
// number of Write calls, then Close.
type Sink interface {
	Open(desc TablespaceDescriptor, index int) error
	Write(data []byte) error
	Close() error
}

// TarFileSink writes each tablespace's archive through verbatim to its
// own .tar (or .tar.gz) file, or to a single shared stdout stream.
type TarFileSink struct {
	outDir        string
	stdout        io.Writer
	compressLevel int

	file   *os.File
	gzw    *gzip.Writer
	target io.Writer
}

// NewTarFileSink writes one .tar[.gz] file per tablespace under
// outDir. compressLevel of 0 disables gzip.
func NewTarFileSink(outDir string, compressLevel int) *TarFileSink {
	return &TarFileSink{outDir: outDir, compressLevel: compressLevel}
}

// NewStdoutTarSink writes a single tablespace's archive straight to w.
// Gzip is never applied in this mode (spec.md §4.4).
func NewStdoutTarSink(w io.Writer) *TarFileSink {
	return &TarFileSink{stdout: w}
}

func (s *TarFileSink) Open(desc TablespaceDescriptor, index int) error {
	if s.stdout != nil {
		s.target = s.stdout
		return nil
	}

	name := "base"
	if index > 0 {
		if desc.Spcoid == nil {
			return streaming.NewProtocolError("TarFileSink: tablespace at index %d has no spcoid", index)
		}
		name = strconv.FormatUint(uint64(*desc.Spcoid), 10)
	}
	if s.compressLevel > 0 {
		name += ".tar.gz"
	} else {
		name += ".tar"
	}

	path := filepath.Join(s.outDir, name)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return streaming.NewIoError(err, "TarFileSink: could not create %s", path)
	}
	s.file = file

	if s.compressLevel > 0 {
		gzw, err := gzip.NewWriterLevel(file, s.compressLevel)
		if err != nil {
			return streaming.NewIoError(err, "TarFileSink: could not start gzip writer for %s", path)
		}
		s.gzw = gzw
		s.target = gzw
	} else {
		s.target = file
	}
	return nil
}

func (s *TarFileSink) Write(data []byte) error {
	if _, err := s.target.Write(data); err != nil {
		return streaming.NewIoError(err, "TarFileSink: write failed")
	}
	return nil
}

func (s *TarFileSink) Close() error {
	if _, err := s.target.Write(sentinel[:]); err != nil {
		return streaming.NewIoError(err, "TarFileSink: failed writing end-of-archive sentinel")
	}

	if s.gzw != nil {
		if err := s.gzw.Close(); err != nil {
			return streaming.NewIoError(err, "TarFileSink: gzip close failed")
		}
		s.gzw = nil
	}
	if s.file != nil {
		if err := s.file.Sync(); err != nil {
			return streaming.NewIoError(err, "TarFileSink: fsync failed")
		}
		if err := s.file.Close(); err != nil {
			return streaming.NewIoError(err, "TarFileSink: close failed")
		}
		s.file = nil
	}
	return nil
}

// TreeSink unpacks a tablespace's archive directly into a directory
// tree, using tarstream.Parser to interpret the bytes and materializing
// each entry as it completes.
type TreeSink struct {
	baseDir string

	targetDir string
	parser    *tarstream.Parser
	handler   *treeHandler
}

// NewTreeSink unpacks the main data directory into baseDir; additional
// tablespaces unpack into their own original spclocation instead.
func NewTreeSink(baseDir string) *TreeSink {
	return &TreeSink{baseDir: baseDir}
}

func (s *TreeSink) Open(desc TablespaceDescriptor, index int) error {
	dir, err := s.targetDirFor(desc, index)
	if err != nil {
		return err
	}
	if err := EnsureEmptyOrCreate(dir); err != nil {
		return err
	}

	s.targetDir = dir
	s.handler = &treeHandler{targetDir: dir}
	s.parser = tarstream.New(s.handler)
	return nil
}

func (s *TreeSink) Write(data []byte) error {
	return s.parser.Write(data)
}

func (s *TreeSink) Close() error {
	if s.handler.open != nil {
		if err := s.handler.open.Close(); err != nil {
			return streaming.NewIoError(err, "TreeSink: close failed for %s", s.handler.openName)
		}
		s.handler.open = nil
	}
	if !s.parser.Idle() {
		return streaming.NewProtocolError(
			"TreeSink: archive for %s ended mid-entry", s.targetDir)
	}
	return nil
}

func (s *TreeSink) targetDirFor(desc TablespaceDescriptor, index int) (string, error) {
	if index == 0 {
		if desc.Location != nil {
			return "", streaming.NewProtocolError("TreeSink: first tablespace unexpectedly carries a location")
		}
		return s.baseDir, nil
	}
	if desc.Location == nil {
		return "", streaming.NewProtocolError("TreeSink: tablespace at index %d has no location", index)
	}
	return *desc.Location, nil
}

// treeHandler implements tarstream.Handler, turning parser events into
// filesystem operations rooted at targetDir.
type treeHandler struct {
	targetDir string

	open     *os.File
	openName string
}

func (h *treeHandler) Header(hdr tarstream.Header) error {
	path := filepath.Join(h.targetDir, hdr.Name)

	switch hdr.Kind {
	case tarstream.Directory:
		if err := os.MkdirAll(path, 0700); err != nil {
			return streaming.NewIoError(err, "TreeSink: mkdir failed for %s", path)
		}
		return nil
	case tarstream.SymlinkToDir:
		if err := os.Symlink(hdr.LinkTarget, trimTrailingSlash(path)); err != nil {
			return streaming.NewIoError(err, "TreeSink: symlink failed for %s -> %s", path, hdr.LinkTarget)
		}
		return nil
	case tarstream.Regular:
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode)&0777)
		if err != nil {
			return streaming.NewIoError(err, "TreeSink: open failed for %s", path)
		}
		h.open = file
		h.openName = path
		return nil
	default:
		return streaming.NewProtocolError("TreeSink: unhandled entry kind for %s", path)
	}
}

func (h *treeHandler) Body(data []byte) error {
	if h.open == nil {
		return streaming.NewProtocolError("TreeSink: body bytes with no open file")
	}
	if _, err := h.open.Write(data); err != nil {
		return streaming.NewIoError(err, "TreeSink: write failed for %s", h.openName)
	}
	return nil
}

func (h *treeHandler) EndOfEntry() error {
	if h.open == nil {
		return nil
	}
	err := h.open.Close()
	h.open = nil
	if err != nil {
		return streaming.NewIoError(err, "TreeSink: close failed for %s", h.openName)
	}
	return nil
}

func trimTrailingSlash(path string) string {
	for len(path) > 0 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}
