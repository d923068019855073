package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/driverbench/internal/recording"
)

// NewFixtureCommand creates the fixture command group.
func NewFixtureCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fixture",
		Short: "Inspect recorded workload fixtures",
	}
	cmd.AddCommand(newFixtureValidateCommand(rootOpts))
	return cmd
}

func newFixtureValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <fixture-dir>",
		Short: "Validate a fixture directory",
		Long: `Validate a fixture directory: the manifest is checked against its schema
and the workload file is loaded in full, so duplicate keys and malformed
entries fail here instead of mid-benchmark.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := recording.Load(args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "invalid fixture", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fixture ok: provider=%s entries=%d\n",
				store.Provider(), store.Len())
			return nil
		},
	}
}
