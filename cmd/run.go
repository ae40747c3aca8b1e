package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/openr/openr-go/core"
	"github.com/openr/openr-go/state"
)

var runCmd = &cobra.Command{
	Use:     "run",
	Short:   "Run the node",
	GroupID: "run",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := state.LoadConfig(configPath)
		if err != nil {
			return err
		}
		node, err := core.NewNode(cfg, stateDir, logPath, verbose)
		if err != nil {
			return err
		}
		if debugAddr != "" {
			go func() {
				if err := node.ServeDebug(debugAddr); err != nil {
					slog.Default().Warn("debug endpoint stopped", "err", err)
				}
			}()
		}
		return node.Start()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
