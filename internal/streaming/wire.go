package streaming

import (
	"context"
	"io"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgproto3/v2"
)

// WireReader is a thin adapter over a replication connection that has
// already been placed into COPY OUT or COPY BOTH mode (by issuing
// BASE_BACKUP or START_REPLICATION and confirming the result status —
// that handshake is the caller's job, one level below this type).
//
// WireReader itself only knows how to pull one COPY payload at a time
// and, once the server ends the COPY, read the terminating command
// status.
type WireReader struct {
	conn *pgconn.PgConn
}

// NewWireReader wraps conn, which must already be mid-COPY.
func NewWireReader(conn *pgconn.PgConn) *WireReader {
	return &WireReader{conn: conn}
}

// NextFrame blocks until one complete COPY payload arrives. It returns
// io.EOF (not wrapped) when the server ends the COPY stream normally;
// any other error is fatal to the session.
func (w *WireReader) NextFrame(ctx context.Context) ([]byte, error) {
	msg, err := w.conn.ReceiveMessage(ctx)
	if err != nil {
		return nil, NewIoError(err, "NextFrame: failed to receive message")
	}

	switch m := msg.(type) {
	case *pgproto3.CopyData:
		return m.Data, nil
	case *pgproto3.CopyDone:
		return nil, io.EOF
	default:
		return nil, NewProtocolError("NextFrame: unexpected message %T while expecting COPY data", msg)
	}
}

// Finalize is called once after NextFrame reports io.EOF. It drains any
// remaining protocol chatter and confirms the server reported a clean
// completion. A ServerError is returned if the server instead reported
// failure.
func (w *WireReader) Finalize(ctx context.Context) error {
	for {
		msg, err := w.conn.ReceiveMessage(ctx)
		if err != nil {
			return NewIoError(err, "Finalize: failed to receive final status")
		}

		switch m := msg.(type) {
		case *pgproto3.CommandComplete:
			return nil
		case *pgproto3.ReadyForQuery:
			return nil
		case *pgproto3.ErrorResponse:
			return NewServerError("Finalize: server reported failure: %s", m.Message)
		default:
			// Intermediate result-set chatter (e.g. a RowDescription/DataRow
			// pair preceding the next tablespace in a base backup) is not
			// this reader's concern; keep draining until a terminal status.
			continue
		}
	}
}
