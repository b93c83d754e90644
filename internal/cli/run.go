package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tickgraph/tickgraph/internal/scenario"
	"github.com/tickgraph/tickgraph/internal/sim"
	"github.com/tickgraph/tickgraph/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Ticks    int
	Step     float64
	Seed     int64
	RunID    string
}

// RunResult is the run command's success payload.
type RunResult struct {
	RunID   string `json:"runId"`
	Ticks   int64  `json:"ticks"`
	Entries int    `json:"entries"`
	Seed    int64  `json:"seed"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario-file>",
		Short: "Run a scenario and persist its activity log",
		Long: `Run a scenario for a fixed number of ticks and persist the run.

The scenario is loaded and validated, then executed deterministically:
a seeded random generator drives data sources and tokens get sequential
IDs, so the same scenario, seed, and tick count always produce the same
log. Every activity log entry is appended to the SQLite database under a
fresh run ID, which the trace and replay commands accept.

Examples:
  tickgraph run --db ./runs.db --ticks 100 scenario.json
  tickgraph run --db ./runs.db --ticks 50 --seed 42 --step 0.5 scenario.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().IntVar(&opts.Ticks, "ticks", 0, "number of ticks to run (required)")
	_ = cmd.MarkFlagRequired("ticks")
	cmd.Flags().Float64Var(&opts.Step, "step", 1.0, "simulated seconds per tick")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "random seed for data source generation")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run ID to record under (default: new UUIDv7)")

	return cmd
}

func runScenario(opts *RunOptions, path string, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logLevel}))

	if opts.Ticks <= 0 {
		return NewExitError(ExitCommandError, "--ticks must be positive")
	}

	scn, err := scenario.LoadFile(path)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid scenario", err)
	}

	eng, err := sim.New(scn, sim.Options{
		Step:   opts.Step,
		Seed:   opts.Seed,
		IDs:    sim.NewSequentialGenerator(),
		Logger: logger,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "cannot build engine", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	runID := opts.RunID
	if runID == "" {
		runID = uuid.Must(uuid.NewV7()).String()
	}

	// Store the normalized scenario JSON, not the raw file, so replay loads
	// exactly what ran regardless of the input codec.
	scnJSON, err := scenario.Marshal(scn)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot encode scenario", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	err = st.CreateRun(ctx, store.RunMeta{
		RunID:    runID,
		Scenario: scnJSON,
		Seed:     opts.Seed,
		Step:     opts.Step,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create run", err)
	}

	logger.Info("run starting", "run_id", runID, "ticks", opts.Ticks, "seed", opts.Seed)
	if _, err := eng.Run(ctx, opts.Ticks); err != nil {
		return WrapExitError(ExitFailure, "run aborted", err)
	}

	entries := eng.Log().All()
	if err := st.AppendEntries(ctx, runID, entries); err != nil {
		return WrapExitError(ExitCommandError, "failed to persist activity log", err)
	}
	ticks := eng.Clock().Tick()
	if err := st.SetTicks(ctx, runID, ticks); err != nil {
		return WrapExitError(ExitCommandError, "failed to record tick count", err)
	}
	logger.Info("run complete", "run_id", runID, "entries", len(entries))

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	result := RunResult{RunID: runID, Ticks: ticks, Entries: len(entries), Seed: opts.Seed}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "Run %s: %d ticks, %d log entries\n", result.RunID, result.Ticks, result.Entries)
	return nil
}
