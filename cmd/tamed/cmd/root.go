// Package cmd provides the CLI commands for tamed, the policy
// enforcement and audit server.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/donbool/tame/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tamed",
	Short: "tamed — policy enforcement and audit server",
	Long: `tamed evaluates tool calls against a closed-clause policy document,
appends a tamper-evident audit record for every decision, and exposes an
HTTP/JSON API plus a /ws push channel for result subscribers.

Running "tamed" with no subcommand starts the server; use "tamed serve"
explicitly when scripting.`,
	RunE: runServe,
}

// Execute runs the root command, exiting the process on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./tame.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
