// Package streaming adapts a replication-mode Postgres connection into a
// frame-at-a-time reader usable by the base-backup and WAL-receive engines.
package streaming

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/wal-g/tracelog"
)

// ConfigError signals a configuration problem: conflicting flags, an
// unusable target directory, an unsupported compression setting, or
// stdout tar output for a backup with more than one tablespace. Flag
// and data-directory problems are detected before any connection is
// attempted; additional tablespace directories and the tablespace count
// are only checked once the server has answered BASE_BACKUP.
type ConfigError struct{ error }

func NewConfigError(format string, args ...interface{}) ConfigError {
	return ConfigError{errors.Errorf(format, args...)}
}

func (err ConfigError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

// ProtocolError signals a malformed or unexpected replication-protocol
// exchange: a wrong frame type, a short header, an offset mismatch, an
// unknown tar typeflag, a truncated entry body.
type ProtocolError struct{ error }

func NewProtocolError(format string, args ...interface{}) ProtocolError {
	return ProtocolError{errors.Errorf(format, args...)}
}

func (err ProtocolError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

// IoError wraps an open/write/read/fsync/rename/readdir failure.
type IoError struct{ error }

func NewIoError(cause error, format string, args ...interface{}) IoError {
	return IoError{errors.Wrapf(cause, format, args...)}
}

func (err IoError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

// ServerError wraps a failure status reported by the server itself,
// either as a query result or as the terminating status of a COPY
// stream.
type ServerError struct{ error }

func NewServerError(format string, args ...interface{}) ServerError {
	return ServerError{errors.Errorf(format, args...)}
}

func (err ServerError) Error() string {
	return fmt.Sprintf(tracelog.GetErrorFormatter(), err.error)
}

// UserStop is not an error: it signals that a SegmentHook requested
// termination. Callers should treat it as a clean, successful stop and
// report the position carried on it.
type UserStop struct {
	Position string
}

func (s UserStop) Error() string {
	return fmt.Sprintf("stream stopped by caller at %s", s.Position)
}
