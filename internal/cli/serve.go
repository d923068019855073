package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/driverbench/internal/driver"
	"github.com/roach88/driverbench/internal/errbridge"
	"github.com/roach88/driverbench/internal/recording"
	"github.com/roach88/driverbench/internal/server"
	"github.com/roach88/driverbench/internal/session"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	RecordDir string
	ReplayDir string
	Provider  string
	PoolSize  int
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the RPC protocol on stdin/stdout",
		Long: `Serve the line-delimited RPC protocol: requests on stdin, responses on
stdout, diagnostics on stderr.

With --record, every session's workload is captured and written to the
fixture directory when the serve loop ends. With --replay, statements
resolve from a previously recorded fixture and no backend is contacted.

Example:
  driverbench serve
  driverbench serve --record ./fixtures/basic --record-provider sqlite
  driverbench serve --replay ./fixtures/basic`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RecordDir, "record", "", "record workloads into this fixture directory")
	cmd.Flags().StringVar(&opts.ReplayDir, "replay", "", "replay workloads from this fixture directory")
	cmd.Flags().StringVar(&opts.Provider, "record-provider", "sqlite", "provider tag stamped into recorded fixtures (sqlite|postgres|d1)")
	cmd.Flags().IntVar(&opts.PoolSize, "pool-size", server.DefaultPoolSize, "bounded handler pool size")
	cmd.MarkFlagsMutuallyExclusive("record", "replay")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	log := slog.New(handler)
	slog.SetDefault(log)

	bridge := errbridge.NewRegistry()

	var (
		registry *session.Registry
		recStore *recording.Store
	)
	switch {
	case opts.ReplayDir != "":
		store, err := recording.Load(opts.ReplayDir)
		if err != nil {
			return WrapExitError(ExitCommandError, "loading fixture", err)
		}
		log.Info("replaying recorded workload", "dir", opts.ReplayDir, "entries", store.Len())
		registry = session.NewReplayRegistry(bridge, store)
	case opts.RecordDir != "":
		recStore = recording.NewStore(driver.Provider(opts.Provider))
		log.Info("recording workload", "dir", opts.RecordDir, "provider", opts.Provider)
		registry = session.NewRecordingRegistry(bridge, recStore)
	default:
		registry = session.NewRegistry(bridge)
	}

	srv := server.New(registry, bridge,
		server.WithLogger(log),
		server.WithPoolSize(opts.PoolSize),
	)

	log.Info("serving", "pool_size", opts.PoolSize)
	if err := srv.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
		return WrapExitError(ExitFailure, "serve loop", err)
	}

	if recStore != nil {
		if err := recStore.Save(opts.RecordDir); err != nil {
			return WrapExitError(ExitFailure, "saving fixture", err)
		}
		log.Info("fixture saved", "dir", opts.RecordDir, "entries", recStore.Len())
	}

	if n := registry.Len(); n > 0 {
		// The client never called teardown for these; their backend
		// resources live for the process's remaining lifetime.
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d session(s) never torn down\n", n)
	}
	return nil
}
