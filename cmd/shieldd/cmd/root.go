// Package cmd provides the CLI commands for the shieldd daemon.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agenshield/shieldd/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "shieldd",
	Short: "shieldd - agent execution policy daemon",
	Long: `shieldd is the local daemon a shield client library talks to over its
JSON-RPC socket to ask "is this exec/fetch/filesystem access allowed" and to
report back what the sandboxed agent actually did.

Quick start:
  1. Create a config file: shieldd.yaml
  2. Run: shieldd run

Configuration:
  Config is loaded from shieldd.yaml in the current directory,
  $HOME/.agenshield/, or /etc/agenshield/.

  Environment variables can override config values with the AGENSHIELD_ prefix.
  Example: AGENSHIELD_SERVER_ADDR=127.0.0.1:9090

Commands:
  run                 Run the daemon in the foreground
  stop                Stop the running daemon
  hash-broker-token   Generate the SHA256 hash stored for a broker token
  version             Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./shieldd.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
