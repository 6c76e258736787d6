// Package tarstream implements the restartable, chunk-boundary-safe
// ustar parser described in spec.md §4.2. Unlike archive/tar, which
// expects to read a whole header in one call, this parser accepts
// arbitrary-sized byte slices — including ones that split a single
// 512-byte header or body block across two Write calls — because its
// input is a sequence of independently-sized COPY OUT protocol frames,
// not a seekable file.
package tarstream

import (
	"strconv"
	"strings"
	"time"

	"github.com/wal-g/replstream/internal/streaming"
)

const blockSize = 512

// Kind identifies the subset of ustar entry types this parser accepts.
type Kind int

const (
	Regular Kind = iota
	Directory
	SymlinkToDir
)

// Header is the parsed form of one 512-byte tar header block.
type Header struct {
	Name       string
	Mode       int64
	Size       int64
	ModTime    time.Time
	Kind       Kind
	LinkTarget string
}

// Handler receives parser events in order: exactly one Header, then
// zero or more Body calls totalling Header.Size bytes, then exactly one
// EndOfEntry — repeated for every entry in the archive.
type Handler interface {
	Header(h Header) error
	Body(data []byte) error
	EndOfEntry() error
}

type state int

const (
	stateAwaitHeader state = iota
	stateBody
	statePadding
	stateDone
)

// Parser is a streaming sink: feed it arbitrary chunks of the archive
// bytes via Write, in order, and it drives Handler as entries complete.
type Parser struct {
	handler Handler

	state state

	headerBuf [blockSize]byte
	headerLen int

	remaining int64
	padding   int64

	zeroBlocksSeen int
}

// New constructs a Parser that reports events to handler.
func New(handler Handler) *Parser {
	return &Parser{handler: handler}
}

// Done reports whether the end-of-archive marker (two all-zero blocks)
// has been consumed.
func (p *Parser) Done() bool {
	return p.state == stateDone
}

// Idle reports whether the parser is positioned between entries, i.e.
// no header, body, or padding is partially consumed. Callers that
// receive an archive with no trailing zero-block sentinel (the
// COPY OUT payload itself, as opposed to a written-out tar file) use
// this instead of Done to confirm the stream ended cleanly.
func (p *Parser) Idle() bool {
	return p.state == stateAwaitHeader && p.headerLen == 0
}

// Write consumes the next chunk of archive bytes. It may be called any
// number of times with chunks of any size, including ones that split a
// header or a body run at an arbitrary byte offset.
func (p *Parser) Write(chunk []byte) error {
	for len(chunk) > 0 {
		switch p.state {
		case stateDone:
			return streaming.NewProtocolError("tarstream: received data after end-of-archive marker")

		case stateAwaitHeader:
			n := copy(p.headerBuf[p.headerLen:], chunk)
			p.headerLen += n
			chunk = chunk[n:]
			if p.headerLen < blockSize {
				return nil
			}
			block := p.headerBuf
			p.headerLen = 0
			if err := p.consumeHeaderBlock(block[:]); err != nil {
				return err
			}

		case stateBody:
			n := int64(len(chunk))
			if n > p.remaining {
				n = p.remaining
			}
			if n > 0 {
				if err := p.handler.Body(chunk[:n]); err != nil {
					return err
				}
			}
			p.remaining -= n
			chunk = chunk[n:]
			if p.remaining == 0 {
				if err := p.finishEntry(); err != nil {
					return err
				}
			}

		case statePadding:
			n := int64(len(chunk))
			if n > p.padding {
				n = p.padding
			}
			chunk = chunk[n:]
			p.padding -= n
			if p.padding == 0 {
				if err := p.handler.EndOfEntry(); err != nil {
					return err
				}
				p.state = stateAwaitHeader
			}
		}
	}
	return nil
}

func (p *Parser) finishEntry() error {
	if p.padding == 0 {
		if err := p.handler.EndOfEntry(); err != nil {
			return err
		}
		p.state = stateAwaitHeader
		return nil
	}
	p.state = statePadding
	return nil
}

func (p *Parser) consumeHeaderBlock(block []byte) error {
	if allZero(block) {
		p.zeroBlocksSeen++
		if p.zeroBlocksSeen >= 2 {
			p.state = stateDone
		}
		return nil
	}
	p.zeroBlocksSeen = 0

	name := cString(block[0:100])
	mode, err := parseOctal(block[100:108])
	if err != nil {
		return streaming.NewProtocolError("tarstream: bad mode field for %q: %v", name, err)
	}
	size, err := parseOctal(block[124:136])
	if err != nil {
		return streaming.NewProtocolError("tarstream: bad size field for %q: %v", name, err)
	}
	mtime, err := parseOctal(block[136:148])
	if err != nil {
		return streaming.NewProtocolError("tarstream: bad mtime field for %q: %v", name, err)
	}
	typeflag := block[156]
	linkname := cString(block[157:257])

	var kind Kind
	switch typeflag {
	case '0', 0:
		kind = Regular
	case '5':
		kind = Directory
	case '2':
		if linkname == "" {
			return streaming.NewProtocolError("tarstream: symlink entry %q has empty linkname", name)
		}
		if !strings.HasSuffix(name, "/") {
			return streaming.NewProtocolError("tarstream: only symlinks-to-directories are supported, got %q", name)
		}
		kind = SymlinkToDir
	default:
		return streaming.NewProtocolError("tarstream: unknown tar typeflag %q for %q", typeflag, name)
	}

	header := Header{
		Name:       name,
		Mode:       mode,
		Size:       size,
		ModTime:    time.Unix(mtime, 0),
		Kind:       kind,
		LinkTarget: linkname,
	}
	if err := p.handler.Header(header); err != nil {
		return err
	}

	if kind != Regular || size == 0 {
		if err := p.handler.EndOfEntry(); err != nil {
			return err
		}
		p.state = stateAwaitHeader
		return nil
	}

	p.remaining = size
	p.padding = paddingFor(size)
	p.state = stateBody
	return nil
}

// paddingFor returns the number of NUL bytes following a body of size
// bytes needed to reach the next 512-byte boundary.
func paddingFor(size int64) int64 {
	return ((size + blockSize - 1) &^ (blockSize - 1)) - size
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func parseOctal(b []byte) (int64, error) {
	s := strings.TrimRight(strings.TrimSpace(cString(b)), "\x00")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 8, 64)
}
