package walstream

import "github.com/wal-g/replstream/internal/segment"

// HookAction is the tagged return of a SegmentHook: whether the engine
// should keep streaming or stop cleanly (spec.md §9 — the callback-based
// completion in the original source becomes this first-class interface).
type HookAction int

const (
	Continue HookAction = iota
	Stop
)

// SegmentHook is invoked once per completed segment, after fsync,
// close, and any rename, with the position immediately past the
// segment and the timeline it belongs to. It is also where a caller
// implements policies such as removing a now-stale predecessor
// ".partial" file.
type SegmentHook func(endPos segment.Position, timeline uint32) (HookAction, error)
