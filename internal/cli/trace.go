package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tickgraph/tickgraph/internal/sim"
	"github.com/tickgraph/tickgraph/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	NodeID   string  // optional - filter to one node
	At       float64 // optional - report the node's state at this time
	AtSet    bool
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	RunID    string      `json:"runId"`
	NodeID   string      `json:"nodeId,omitempty"`
	Timeline []sim.Entry `json:"timeline"`
	StateAt  *StateAt    `json:"stateAt,omitempty"`
	Stats    TraceStats  `json:"stats"`
}

// StateAt answers the "what was this node doing at time T" query.
type StateAt struct {
	Time  float64 `json:"time"`
	State string  `json:"state"`
}

// TraceStats summarizes a run's log.
type TraceStats struct {
	TotalEntries int            `json:"totalEntries"`
	Ticks        int64          `json:"ticks"`
	ByAction     map[string]int `json:"byAction"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Query a stored run's activity log",
		Long: `Query the activity log of a stored run.

Shows the sequenced timeline of node events: tokens received, emissions,
drops, state changes, formula errors, feedback refusals. With --node the
timeline is restricted to one node; with --at it also reports the node's
state at simulated time T, reconstructed from the log.

Examples:
  tickgraph trace --db ./runs.db --run <run-id>
  tickgraph trace --db ./runs.db --run <run-id> --node q1
  tickgraph trace --db ./runs.db --run <run-id> --node q1 --at 42.5`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.AtSet = cmd.Flags().Changed("at")
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run ID to trace (required)")
	_ = cmd.MarkFlagRequired("run")
	cmd.Flags().StringVar(&opts.NodeID, "node", "", "filter to one node ID")
	cmd.Flags().Float64Var(&opts.At, "at", 0, "report node state at this simulated time (requires --node)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	if opts.AtSet && opts.NodeID == "" {
		return NewExitError(ExitCommandError, "--at requires --node")
	}

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

	var timeline []sim.Entry
	if opts.NodeID != "" {
		timeline, err = st.ReadNodeLog(ctx, opts.RunID, opts.NodeID)
	} else {
		timeline, err = st.ReadLog(ctx, opts.RunID)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read activity log", err)
	}

	result := TraceResult{
		RunID:    opts.RunID,
		NodeID:   opts.NodeID,
		Timeline: timeline,
		Stats: TraceStats{
			TotalEntries: len(timeline),
			Ticks:        meta.Ticks,
			ByAction:     countActions(timeline),
		},
	}

	if opts.AtSet {
		state, err := st.NodeStateAt(ctx, opts.RunID, opts.NodeID, opts.At)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return WrapExitError(ExitFailure, "no state recorded", err)
			}
			return WrapExitError(ExitCommandError, "failed to query state", err)
		}
		result.StateAt = &StateAt{Time: opts.At, State: state}
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd, result, opts.Verbose)
}

func countActions(entries []sim.Entry) map[string]int {
	counts := make(map[string]int)
	for _, e := range entries {
		counts[string(e.Action)]++
	}
	return counts
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(CLIResponse{Status: "ok", Data: result})
}

// outputTraceText outputs the trace result as text.
func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Trace for run: %s\n", result.RunID)
	if result.NodeID != "" {
		fmt.Fprintf(w, "Node: %s\n", result.NodeID)
	}
	if result.StateAt != nil {
		fmt.Fprintf(w, "State at t=%g: %s\n", result.StateAt.Time, result.StateAt.State)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no entries)")
	} else {
		for _, e := range result.Timeline {
			formatTimelineEntry(w, e, verbose)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Ticks:   %d\n", result.Stats.Ticks)
	fmt.Fprintf(w, "  Entries: %d\n", result.Stats.TotalEntries)
	for _, action := range sortedKeys(result.Stats.ByAction) {
		fmt.Fprintf(w, "  %-18s %d\n", action+":", result.Stats.ByAction[action])
	}

	return nil
}

// formatTimelineEntry formats a single log entry for text output.
func formatTimelineEntry(w io.Writer, e sim.Entry, verbose bool) {
	line := fmt.Sprintf("  [%d] t=%-8g %-24s %s", e.Sequence, e.Timestamp, e.NodeID, e.Action)
	if e.Details != "" {
		line += " (" + e.Details + ")"
	}
	fmt.Fprintln(w, line)
	if verbose {
		if e.Value != nil {
			fmt.Fprintf(w, "       value: %s\n", formatValue(e.Value))
		}
		fmt.Fprintf(w, "       state: %s, buffer: %d\n", e.State, e.BufferSize)
	}
}

// formatValue formats a value for display, handling nested structures
// deterministically.
func formatValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		parts := make([]string, 0, len(val))
		for _, k := range sortedAnyKeys(val) {
			parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(val[k])))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	default:
		return fmt.Sprintf("%v", v)
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedAnyKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
