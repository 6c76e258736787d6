package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wal-g/replstream/internal/config"

	walreceivecmd "github.com/wal-g/replstream/cmd/walreceive"
)

func init() {
	cobra.OnInitialize(config.InitConfig, configureLogging)
	config.AddConfigFlags(walreceivecmd.Cmd)
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
	if err := walreceivecmd.Cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
