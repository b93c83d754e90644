package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tickgraph/tickgraph/internal/scenario"
	"github.com/tickgraph/tickgraph/internal/sim"
	"github.com/tickgraph/tickgraph/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	RunID    string
}

// ReplayResult is the replay command's payload.
type ReplayResult struct {
	RunID         string `json:"runId"`
	Ticks         int64  `json:"ticks"`
	Entries       int    `json:"entries"`
	Deterministic bool   `json:"deterministic"`
	Divergence    string `json:"divergence,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run a stored run and verify determinism",
		Long: `Re-run a stored run and verify it reproduces the stored log.

Loads the scenario, seed, step, and tick count recorded for the run,
executes the scenario again with the same seed and sequential token IDs,
and compares the fresh activity log against the stored one entry by
entry. Any divergence means the engine behaved non-deterministically (or
the stored run was produced by a different build) and exits with code 1.

Examples:
  tickgraph replay --db ./runs.db --run <run-id>
  tickgraph replay --db ./runs.db --run <run-id> --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run ID to replay (required)")
	_ = cmd.MarkFlagRequired("run")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logLevel}))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	meta, err := st.GetRun(ctx, opts.RunID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return WrapExitError(ExitCommandError, "unknown run", err)
		}
		return WrapExitError(ExitCommandError, "failed to load run", err)
	}

	scn, err := scenario.Load(meta.Scenario)
	if err != nil {
		return WrapExitError(ExitCommandError, "stored scenario no longer loads", err)
	}

	eng, err := sim.New(scn, sim.Options{
		Step:   meta.Step,
		Seed:   meta.Seed,
		IDs:    sim.NewSequentialGenerator(),
		Logger: logger,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot rebuild engine", err)
	}

	logger.Info("replaying run", "run_id", opts.RunID, "ticks", meta.Ticks, "seed", meta.Seed)
	if _, err := eng.Run(ctx, int(meta.Ticks)); err != nil {
		return WrapExitError(ExitFailure, "replay aborted", err)
	}

	replayed := eng.Log().All()
	divergence, err := st.CompareRun(ctx, opts.RunID, replayed)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compare logs", err)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	result := ReplayResult{
		RunID:         opts.RunID,
		Ticks:         meta.Ticks,
		Entries:       len(replayed),
		Deterministic: divergence == nil,
	}
	if divergence != nil {
		result.Divergence = divergence.String()
	}

	if formatter.Format == "json" {
		if divergence != nil {
			_ = formatter.Error("E_NONDETERMINISTIC", "replay diverged from stored log", result)
			return NewExitError(ExitFailure, divergence.String())
		}
		return formatter.Success(result)
	}

	if divergence != nil {
		fmt.Fprintf(formatter.Writer, "✗ Replay diverged: %s\n", divergence)
		return NewExitError(ExitFailure, divergence.String())
	}
	fmt.Fprintf(formatter.Writer, "✓ Replay deterministic: %d ticks, %d entries match\n", result.Ticks, result.Entries)
	return nil
}
