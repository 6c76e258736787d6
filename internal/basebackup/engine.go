// Package basebackup implements the BaseBackupEngine of spec.md §4.4:
// the BASE_BACKUP protocol driver and its two sinks, TarFileSink and
// TreeSink.
package basebackup

import (
	"context"
	"io"
	"strconv"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgproto3/v2"

	"github.com/wal-g/replstream/internal/streaming"
)

// TablespaceDescriptor is one row of the manifest BASE_BACKUP returns
// before streaming any archive. The first descriptor always has a nil
// Spcoid/Location and represents the main data directory.
type TablespaceDescriptor struct {
	Spcoid   *uint32
	Location *string
	SizeKB   uint64
}

// Mode selects how archive bytes are routed.
type Mode int

const (
	ModeUnpack Mode = iota
	ModeTar
)

// Options configures one BASE_BACKUP invocation.
type Options struct {
	Label      string
	Progress   bool
	Fast       bool
	NoWait     bool
	IncludeWAL bool

	Mode   Mode
	Stdout bool // tar mode only: write the single tablespace to stdout
}

// SinkFactory returns the Sink that should receive the archive for the
// tablespace at index (0 is always the main data directory).
type SinkFactory func(desc TablespaceDescriptor, index int) Sink

// Engine drives one BASE_BACKUP exchange over an already-established
// replication connection.
type Engine struct {
	conn *pgconn.PgConn
}

// NewEngine wraps conn, which must already be a replication-mode
// connection (see internal/replconn).
func NewEngine(conn *pgconn.PgConn) *Engine {
	return &Engine{conn: conn}
}

// Run executes the full protocol sequence described in spec.md §4.4:
// send BASE_BACKUP, read the tablespace manifest, then for each
// tablespace consume its COPY OUT archive into the Sink newSink
// supplies, and finally confirm the server's completion status.
func (e *Engine) Run(ctx context.Context, opts Options, newSink SinkFactory) error {
	frontend := e.conn.Frontend()
	frontend.Send(&pgproto3.Query{String: buildCommand(opts)})
	if err := frontend.Flush(); err != nil {
		return streaming.NewIoError(err, "Run: failed to send BASE_BACKUP")
	}

	descriptors, next, err := e.readManifest(ctx)
	if err != nil {
		return err
	}
	if opts.Stdout && len(descriptors) != 1 {
		return streaming.NewConfigError(
			"Run: stdout tar mode requires exactly one tablespace, server reported %d", len(descriptors))
	}

	if opts.Mode == ModeUnpack {
		if err := validateTablespaceTargets(descriptors); err != nil {
			return err
		}
	}

	reader := streaming.NewWireReader(e.conn)
	for i, desc := range descriptors {
		if _, ok := next.(*pgproto3.CopyOutResponse); !ok {
			return streaming.NewProtocolError(
				"Run: expected CopyOutResponse for tablespace %d, got %T", i, next)
		}

		sink := newSink(desc, i)
		if err := sink.Open(desc, i); err != nil {
			return err
		}

		for {
			data, ferr := reader.NextFrame(ctx)
			if ferr == io.EOF {
				break
			}
			if ferr != nil {
				return ferr
			}
			if err := sink.Write(data); err != nil {
				return err
			}
		}
		if err := sink.Close(); err != nil {
			return err
		}

		if i < len(descriptors)-1 {
			next, err = e.receive(ctx)
			if err != nil {
				return err
			}
		}
	}

	return e.finalizeStatus(ctx)
}

// readManifest reads the RowDescription and the tablespace DataRows
// that precede the first tablespace's CopyOutResponse, returning the
// parsed descriptors together with that first non-DataRow message
// (there being no way to push a message back onto the wire).
func (e *Engine) readManifest(ctx context.Context) ([]TablespaceDescriptor, pgproto3.BackendMessage, error) {
	msg, err := e.receive(ctx)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := msg.(*pgproto3.RowDescription); !ok {
		return nil, nil, streaming.NewProtocolError("readManifest: expected RowDescription, got %T", msg)
	}

	var descriptors []TablespaceDescriptor
	for {
		msg, err = e.receive(ctx)
		if err != nil {
			return nil, nil, err
		}
		row, ok := msg.(*pgproto3.DataRow)
		if !ok {
			break
		}
		desc, err := parseTablespaceRow(row)
		if err != nil {
			return nil, nil, err
		}
		descriptors = append(descriptors, desc)
	}
	return descriptors, msg, nil
}

// validateTablespaceTargets implements spec.md §4.4 step 3: every
// non-first tablespace's target directory is checked before step 4
// consumes any archive bytes, not lazily as each tablespace's turn
// comes up in the COPY loop. The first tablespace's target (the data
// directory itself) is the caller's responsibility, since unpack mode
// always knows that directory up front, before BASE_BACKUP is even
// sent.
func validateTablespaceTargets(descriptors []TablespaceDescriptor) error {
	for i, desc := range descriptors {
		if i == 0 {
			continue
		}
		if desc.Location == nil {
			return streaming.NewProtocolError("validateTablespaceTargets: tablespace at index %d has no location", i)
		}
		if err := EnsureEmptyOrCreate(*desc.Location); err != nil {
			return err
		}
	}
	return nil
}

func parseTablespaceRow(row *pgproto3.DataRow) (TablespaceDescriptor, error) {
	if len(row.Values) != 3 {
		return TablespaceDescriptor{}, streaming.NewProtocolError(
			"parseTablespaceRow: expected 3 columns, got %d", len(row.Values))
	}

	var desc TablespaceDescriptor
	if row.Values[0] != nil {
		oid, err := strconv.ParseUint(string(row.Values[0]), 10, 32)
		if err != nil {
			return TablespaceDescriptor{}, streaming.NewProtocolError("parseTablespaceRow: bad spcoid: %v", err)
		}
		v := uint32(oid)
		desc.Spcoid = &v
	}
	if row.Values[1] != nil {
		v := string(row.Values[1])
		desc.Location = &v
	}
	if row.Values[2] != nil {
		size, err := strconv.ParseUint(string(row.Values[2]), 10, 64)
		if err != nil {
			return TablespaceDescriptor{}, streaming.NewProtocolError("parseTablespaceRow: bad size: %v", err)
		}
		desc.SizeKB = size
	}
	return desc, nil
}

// finalizeStatus drains any trailing protocol chatter until the
// server's terminal status for the whole BASE_BACKUP command.
func (e *Engine) finalizeStatus(ctx context.Context) error {
	for {
		msg, err := e.receive(ctx)
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case *pgproto3.CommandComplete:
			continue
		case *pgproto3.ReadyForQuery:
			return nil
		case *pgproto3.ErrorResponse:
			return streaming.NewServerError("finalizeStatus: server reported failure: %s", m.Message)
		default:
			continue
		}
	}
}

func (e *Engine) receive(ctx context.Context) (pgproto3.BackendMessage, error) {
	msg, err := e.conn.ReceiveMessage(ctx)
	if err != nil {
		return nil, streaming.NewIoError(err, "receive: failed to read message")
	}
	return msg, nil
}
