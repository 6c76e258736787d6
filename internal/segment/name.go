// Package segment implements the WAL segment naming scheme and the
// crash-safe SegmentWriter described in spec.md §3 and §4.3.
package segment

import (
	"fmt"

	"github.com/jackc/pglogrepl"

	"github.com/wal-g/replstream/internal/streaming"
)

// Position is an XLogPosition: a 64-bit logical byte offset into the
// WAL. pglogrepl.LSN already formats as the conventional hi/lo hex pair,
// so it is reused directly rather than reinvented.
type Position = pglogrepl.LSN

// Size is the build-time WAL segment size in bytes, default 16 MiB.
// It is a package variable (not a const) because Postgres servers built
// with a non-default --with-wal-segsize must be matched exactly, the
// same way the teacher's timeline.go exposes WalSegmentSize/SetWalSize.
var Size uint64 = 16 * 1024 * 1024

// segmentsPerXLogID mirrors xlog_internal.h's XLogSegmentsPerXLogId:
// the number of segments it takes to exhaust the 32-bit "log id" half
// of a position, given the current Size.
func segmentsPerXLogID() uint64 {
	return 0x100000000 / Size
}

// SetSize overrides Size (e.g. from a server-reported wal_segment_size)
// and must be called, if at all, before any position math is done.
func SetSize(bytes uint64) {
	Size = bytes
}

// IsBoundary reports whether pos sits exactly on a segment boundary.
func IsBoundary(pos Position) bool {
	return uint64(pos)%Size == 0
}

// AlignDown rounds pos down to the start of the segment containing it.
func AlignDown(pos Position) Position {
	return Position(uint64(pos) - uint64(pos)%Size)
}

// components decomposes a position into the (logId, segNo) pair used
// by the filename format. logID is the high 32 bits' worth of elapsed
// segments, segNo the index of the segment within that run.
func components(pos Position) (logID, segNo uint64) {
	segIndex := uint64(pos) / Size
	perID := segmentsPerXLogID()
	return segIndex / perID, segIndex % perID
}

// Name formats the 24-character uppercase hex SegmentName
// "TTTTTTTTLLLLLLLLSSSSSSSS" for the segment containing pos on the
// given timeline.
func Name(timeline uint32, pos Position) string {
	logID, segNo := components(pos)
	return fmt.Sprintf("%08X%08X%08X", timeline, logID, segNo)
}

// PartialName is Name with the ".partial" suffix spec.md §3 reserves
// for an unfinished segment.
func PartialName(timeline uint32, pos Position) string {
	return Name(timeline, pos) + ".partial"
}

// EndOf returns the position immediately past the segment containing pos.
func EndOf(pos Position) Position {
	return AlignDown(pos) + Position(Size)
}

// ParseName parses a 24-character hex SegmentName back into its
// (timeline, logId, segNo) triple. It rejects anything not exactly 24
// uppercase-hex characters, matching pg_receivexlog's FindStreamingStart
// filter (strlen == 24, chars in 0-9A-F).
func ParseName(name string) (timeline uint32, logID, segNo uint64, err error) {
	if len(name) != 24 {
		return 0, 0, 0, streaming.NewProtocolError("ParseName: %q is not 24 characters", name)
	}
	for _, c := range name {
		if !((c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')) {
			return 0, 0, 0, streaming.NewProtocolError("ParseName: %q contains non-hex characters", name)
		}
	}
	var t, l, s uint64
	if _, err := fmt.Sscanf(name, "%08X%08X%08X", &t, &l, &s); err != nil {
		return 0, 0, 0, streaming.NewProtocolError("ParseName: failed to parse %q: %v", name, err)
	}
	timeline = uint32(t)
	return timeline, l, s, nil
}

// StartPosition reconstructs the XLogPosition at which the named segment
// begins, the inverse of Name/components.
func StartPosition(logID, segNo uint64) Position {
	perID := segmentsPerXLogID()
	return Position((logID*perID + segNo) * Size)
}
