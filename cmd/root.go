// Package cmd is the cobra CLI tree, adapted from the teacher's
// cmd/root.go: a bare `open-r --config <path>` invocation runs the
// node, plus `dump kvstore|adjacencies|routes` operational subcommands
// (spec.md §6, "operational and not part of the core").
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath  string
	stateDir    string
	logPath     string
	verbose     bool
	debugAddr   string
)

var rootCmd = &cobra.Command{
	Use:   "open-r",
	Short: "Open/R-style link-state routing control plane",
	Long:  `A distributed control plane for link-state routing: neighbor discovery, replicated topology, SPF, and FIB reconciliation.`,
}

// Execute adds all child commands to rootCmd and runs it. Called once
// from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.RunE = runCmd.RunE
	rootCmd.AddGroup(&cobra.Group{ID: "run", Title: "Run"})
	rootCmd.AddGroup(&cobra.Group{ID: "ops", Title: "Operational"})

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/open-r/config.json", "node configuration file")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "/var/lib/open-r", "warm-restart snapshot and persisted keys directory")
	rootCmd.PersistentFlags().StringVar(&logPath, "log-path", "", "optional file to additionally log to")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug-level logging")
	rootCmd.PersistentFlags().StringVar(&debugAddr, "debug-addr", "127.0.0.1:8730", "address the operational dump endpoints listen on")
}
