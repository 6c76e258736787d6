package basebackup

import (
	"os"

	"github.com/wal-g/replstream/internal/streaming"
)

// EnsureEmptyOrCreate implements the target-directory policy of
// spec.md §4.4: dir must either not exist yet (it is created) or exist
// and be empty. A present non-empty directory is a fatal configuration
// error; a path that cannot be read as a directory (including a present
// non-directory) is returned as an IoError. Either way the failure is
// surfaced before any bytes are written.
func EnsureEmptyOrCreate(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(dir, 0700); mkErr != nil {
				return streaming.NewIoError(mkErr, "EnsureEmptyOrCreate: could not create %s", dir)
			}
			return nil
		}
		return streaming.NewIoError(err, "EnsureEmptyOrCreate: could not stat %s", dir)
	}

	if len(entries) > 0 {
		return streaming.NewConfigError("EnsureEmptyOrCreate: target directory %s is not empty", dir)
	}
	return nil
}
