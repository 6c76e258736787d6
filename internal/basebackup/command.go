package basebackup

import "strings"

// escapeLabel SQL-single-quotes label, doubling any embedded single
// quotes, per the BASE_BACKUP LABEL grammar (spec.md §4.4 step 1).
func escapeLabel(label string) string {
	return "'" + strings.ReplaceAll(label, "'", "''") + "'"
}

// buildCommand assembles the BASE_BACKUP replication command from
// Options, appending the optional boolean tokens in the fixed order
// PROGRESS, FAST, NOWAIT, WAL.
func buildCommand(opts Options) string {
	cmd := "BASE_BACKUP LABEL " + escapeLabel(opts.Label)
	if opts.Progress {
		cmd += " PROGRESS"
	}
	if opts.Fast {
		cmd += " FAST"
	}
	if opts.NoWait {
		cmd += " NOWAIT"
	}
	if opts.IncludeWAL {
		cmd += " WAL"
	}
	return cmd
}
