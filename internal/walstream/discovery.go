package walstream

import (
	"os"
	"path/filepath"

	"github.com/wal-g/replstream/internal/segment"
	"github.com/wal-g/replstream/internal/streaming"
)

// findStreamingStart implements the resume-position discovery
// procedure of spec.md §4.5: scan baseDir for segment-named files on
// currentTimeline, track the lexicographic-max completed one, and
// rename the first stale partial encountered to ".partial" (stopping
// the scan there, since that marks where streaming must restart).
//
// Returns currentPos unchanged if no completed segment is found.
func findStreamingStart(baseDir string, currentTimeline uint32, currentPos segment.Position) (segment.Position, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return 0, streaming.NewIoError(err, "findStreamingStart: could not read %s", baseDir)
	}

	var haveHigh bool
	var highLogID, highSegNo uint64

	for _, entry := range entries {
		name := entry.Name()
		timeline, logID, segNo, err := segment.ParseName(name)
		if err != nil {
			continue // not a segment filename, e.g. ".partial" files or unrelated content
		}
		if timeline != currentTimeline {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return 0, streaming.NewIoError(err, "findStreamingStart: could not stat %s", name)
		}

		if uint64(info.Size()) == segment.Size {
			if !haveHigh || logID > highLogID || (logID == highLogID && segNo > highSegNo) {
				haveHigh = true
				highLogID, highSegNo = logID, segNo
			}
			continue
		}

		// Stale partial segment from a prior, interrupted run.
		newName := name + ".partial"
		newPath := filepath.Join(baseDir, newName)
		if _, err := os.Stat(newPath); err == nil {
			return 0, streaming.NewProtocolError(
				"findStreamingStart: %s already exists, refusing to overwrite", newPath)
		}
		oldPath := filepath.Join(baseDir, name)
		if err := os.Rename(oldPath, newPath); err != nil {
			return 0, streaming.NewIoError(err, "findStreamingStart: could not rename %s to %s", oldPath, newPath)
		}
		break // assume this was the last segment being written; stop scanning
	}

	if !haveHigh {
		return currentPos, nil
	}
	return segment.EndOf(segment.StartPosition(highLogID, highSegNo)), nil
}
