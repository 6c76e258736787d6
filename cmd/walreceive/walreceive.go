// Package walreceive is the cobra command for the WAL-receive client
// described in spec.md §6.
package walreceive

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/wal-g/tracelog"

	"github.com/wal-g/replstream/internal/replconn"
	"github.com/wal-g/replstream/internal/segment"
	"github.com/wal-g/replstream/internal/streaming"
	"github.com/wal-g/replstream/internal/walstream"
)

const ShortDescription = "Receive the WAL stream and write it to segment files"

var (
	dir        string
	verbose    bool
	host       string
	port       string
	username   string
	password   string
)

var Cmd = &cobra.Command{
	Use:   "wal-receive",
	Short: ShortDescription,
	Args:  cobra.ExactArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		if verbose {
			_ = tracelog.UpdateLogLevel("DEVEL")
		}
		if err := run(cmd.Context()); err != nil {
			tracelog.ErrorLogger.PrintError(err)
			os.Exit(1)
		}
	},
}

func init() {
	Cmd.Flags().StringVar(&dir, "dir", "", "directory to write segment files into")
	Cmd.Flags().BoolVar(&verbose, "verbose", false, "verbose logging")
	Cmd.Flags().StringVar(&host, "host", "", "database server host")
	Cmd.Flags().StringVar(&port, "port", "", "database server port")
	Cmd.Flags().StringVar(&username, "username", "", "connect as this user")
	Cmd.Flags().StringVar(&password, "password", "", "connection password")
}

func run(ctx context.Context) error {
	if dir == "" {
		return streaming.NewConfigError("--dir is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return streaming.NewIoError(err, "run: could not create %s", dir)
	}

	conn, err := replconn.Connect(ctx, replconn.Options{Host: host, Port: port, Username: username, Password: password})
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	engine := walstream.NewEngine(conn, walstream.Options{
		BaseDir:       dir,
		RenamePartial: true,
		Hook:          removeStalePartial,
	})

	pos, err := engine.Run(ctx)
	if err != nil {
		return err
	}
	tracelog.InfoLogger.Printf("stream ended at %s", pos)
	return nil
}

// removeStalePartial implements spec.md §4.5's suggested completion
// hook: discovery may have renamed an earlier, interrupted attempt at
// this very segment to "<name>.partial" before streaming restarted at
// its start. Now that the segment has completed again, that file is
// stale and safe to remove. It is a no-op when no such file exists
// (spec.md §8 property 6) and never touches the completed segment
// itself, which carries no ".partial" suffix.
func removeStalePartial(endPos segment.Position, timeline uint32) (walstream.HookAction, error) {
	start := segment.Position(uint64(endPos) - segment.Size)
	path := filepath.Join(dir, segment.Name(timeline, start)+".partial")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return walstream.Continue, streaming.NewIoError(err, "removeStalePartial: could not remove %s", path)
	}
	return walstream.Continue, nil
}
