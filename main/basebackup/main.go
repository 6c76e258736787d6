package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	basebackupcmd "github.com/wal-g/replstream/cmd/basebackup"
	"github.com/wal-g/replstream/internal/config"
)

func init() {
	cobra.OnInitialize(config.InitConfig, configureLogging)
	config.AddConfigFlags(basebackupcmd.Cmd)
}

// configureLogging runs as the second cobra.OnInitialize hook, after
// config.InitConfig has enabled AutomaticEnv and installed defaults —
// calling it any earlier means WALG_LOG_LEVEL reads back empty.
func configureLogging() {
	if err := config.ConfigureLogging(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	if err := basebackupcmd.Cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
