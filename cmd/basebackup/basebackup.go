// Package basebackup is the cobra command for the base-backup client
// described in spec.md §6, in the shape of the teacher's cmd/pg
// commands: a package-level *cobra.Command, flag variables bound in
// init, and a Run func that hands off to the engine once flags are
// validated.
package basebackup

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/wal-g/tracelog"

	"github.com/wal-g/replstream/internal/basebackup"
	"github.com/wal-g/replstream/internal/replconn"
	"github.com/wal-g/replstream/internal/streaming"
)

const ShortDescription = "Receive a base backup over the replication protocol"

var (
	baseDir     string
	tarDir      string
	compress    int
	label       string
	progress    bool
	verbose     bool
	host        string
	port        string
	username    string
	password    string
)

var Cmd = &cobra.Command{
	Use:   "basebackup",
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
	Cmd.Flags().StringVar(&baseDir, "basedir", "", "unpack into this directory tree (mutually exclusive with --tardir)")
	Cmd.Flags().StringVar(&tarDir, "tardir", "", "write tar files into this directory, or '-' for stdout")
	Cmd.Flags().IntVar(&compress, "compress", 0, "gzip compression level 0-9 (tar mode only)")
	Cmd.Flags().StringVar(&label, "label", "replstream base backup", "backup label")
	Cmd.Flags().BoolVar(&progress, "progress", false, "request server-side progress reporting")
	Cmd.Flags().BoolVar(&verbose, "verbose", false, "verbose logging")
	Cmd.Flags().StringVar(&host, "host", "", "database server host")
	Cmd.Flags().StringVar(&port, "port", "", "database server port")
	Cmd.Flags().StringVar(&username, "username", "", "connect as this user")
	Cmd.Flags().StringVar(&password, "password", "", "connection password")
}

func run(ctx context.Context) error {
	if (baseDir == "") == (tarDir == "") {
		return streaming.NewConfigError("exactly one of --basedir or --tardir must be given")
	}
	if compress < 0 || compress > 9 {
		return streaming.NewConfigError("--compress must be between 0 and 9")
	}
	stdout := tarDir == "-"
	if compress > 0 && (stdout || baseDir != "") {
		return streaming.NewConfigError("--compress cannot be combined with stdout output or --basedir")
	}
	if baseDir != "" {
		if err := basebackup.EnsureEmptyOrCreate(baseDir); err != nil {
			return err
		}
	}

	conn, err := replconn.Connect(ctx, replconn.Options{Host: host, Port: port, Username: username, Password: password})
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	opts := basebackup.Options{
		Label:      label,
		Progress:   progress,
		Fast:       false,
		NoWait:     false,
		IncludeWAL: false,
		Stdout:     stdout,
	}
	if baseDir != "" {
		opts.Mode = basebackup.ModeUnpack
	} else {
		opts.Mode = basebackup.ModeTar
	}

	engine := basebackup.NewEngine(conn)
	return engine.Run(ctx, opts, func(desc basebackup.TablespaceDescriptor, index int) basebackup.Sink {
		if opts.Mode == basebackup.ModeUnpack {
			return basebackup.NewTreeSink(baseDir)
		}
		if stdout {
			return basebackup.NewStdoutTarSink(os.Stdout)
		}
		return basebackup.NewTarFileSink(tarDir, compress)
	})
}
