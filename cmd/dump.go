package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:     "dump",
	Short:   "Read-only snapshots of a running node's state",
	GroupID: "ops",
}

func dumpFrom(endpoint string) error {
	resp, err := http.Get(fmt.Sprintf("http://%s%s", debugAddr, endpoint))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty any
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

var dumpKvStoreCmd = &cobra.Command{
	Use:     "kvstore",
	Short:   "Dump the replicated KvStore contents",
	GroupID: "ops",
	RunE: func(cmd *cobra.Command, args []string) error {
		return dumpFrom("/debug/kvstore")
	},
}

var dumpAdjacenciesCmd = &cobra.Command{
	Use:     "adjacencies",
	Short:   "Dump decoded AdjacencyDbs",
	GroupID: "ops",
	RunE: func(cmd *cobra.Command, args []string) error {
		return dumpFrom("/debug/adjacencies")
	},
}

var dumpRoutesCmd = &cobra.Command{
	Use:     "routes",
	Short:   "Dump Fib's current desired RouteDb",
	GroupID: "ops",
	RunE: func(cmd *cobra.Command, args []string) error {
		return dumpFrom("/debug/routes")
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.AddCommand(dumpKvStoreCmd, dumpAdjacenciesCmd, dumpRoutesCmd)
}
