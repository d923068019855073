// Package cli wires the broker into a cobra command tree.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
}

// NewRootCommand creates the root command for the driverbench CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "driverbench",
		Short: "Session broker and record/replay harness for driver adapters",
		Long: `driverbench exposes a line-delimited RPC protocol for driving a query
engine through pluggable database backends, and records or replays a fixed
workload for deterministic offline benchmarking.`,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewFixtureCommand(opts))

	return cmd
}
