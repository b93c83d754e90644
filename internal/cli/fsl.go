package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tickgraph/tickgraph/internal/fsm"
)

// FSLOptions holds flags for the fsl command.
type FSLOptions struct {
	*RootOptions
	Check  bool
	Output string
}

// FSLResult is the fsl command's JSON payload.
type FSLResult struct {
	Valid      bool             `json:"valid"`
	Issues     []fsm.ParseIssue `json:"issues,omitempty"`
	Errors     []string         `json:"errors,omitempty"`
	Definition *fsm.Definition  `json:"definition,omitempty"`
}

// NewFSLCommand creates the fsl command.
func NewFSLCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FSLOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fsl <file>",
		Short: "Convert between FSL text and FSM definition JSON",
		Long: `Convert between the FSL text notation and FSM definition JSON.

An .fsl input is parsed into the canonical FSM definition and emitted as
JSON; a .json input is loaded as a definition and formatted back to FSL.
Unparsable FSL lines are reported with line numbers and skipped; the
definition is also validated either way.

With --check, nothing is emitted: the exit code alone reports whether the
input is clean (0) or has issues (1).

Examples:
  tickgraph fsl machine.fsl > machine.json
  tickgraph fsl machine.json --out machine.fsl
  tickgraph fsl machine.fsl --check`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFSL(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Check, "check", false, "only report issues, emit nothing")
	cmd.Flags().StringVar(&opts.Output, "out", "", "write output to file instead of stdout")

	return cmd
}

func runFSL(opts *FSLOptions, path string, cmd *cobra.Command) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot read input", err)
	}

	toFSL := strings.ToLower(filepath.Ext(path)) == ".json"

	var def *fsm.Definition
	var issues []fsm.ParseIssue
	if toFSL {
		def = &fsm.Definition{}
		if err := json.Unmarshal(data, def); err != nil {
			return WrapExitError(ExitFailure, "invalid definition JSON", err)
		}
	} else {
		def, issues = fsm.ParseFSL(string(data))
	}

	validationErrs := def.Validate()

	result := FSLResult{
		Valid:  len(issues) == 0 && len(validationErrs) == 0,
		Issues: issues,
	}
	for _, e := range validationErrs {
		result.Errors = append(result.Errors, e.Error())
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if !result.Valid {
		return outputFSLIssues(formatter, result)
	}

	if opts.Check {
		if formatter.Format == "json" {
			return formatter.Success(result)
		}
		fmt.Fprintln(formatter.Writer, "✓ Definition valid")
		return nil
	}

	var out []byte
	if toFSL {
		out = []byte(fsm.FormatFSL(def))
	} else {
		out, err = json.MarshalIndent(def, "", "  ")
		if err != nil {
			return WrapExitError(ExitCommandError, "cannot encode definition", err)
		}
		out = append(out, '\n')
	}

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, out, 0o644); err != nil {
			return WrapExitError(ExitCommandError, "cannot write output", err)
		}
		return nil
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func outputFSLIssues(formatter *OutputFormatter, result FSLResult) error {
	total := len(result.Issues) + len(result.Errors)

	if formatter.Format == "json" {
		_ = formatter.Error("E_FSL", fmt.Sprintf("%d issue(s)", total), result)
		return NewExitError(ExitFailure, fmt.Sprintf("%d issue(s)", total))
	}

	fmt.Fprintf(formatter.Writer, "✗ %d issue(s)\n", total)
	for _, issue := range result.Issues {
		fmt.Fprintf(formatter.Writer, "  %s\n", issue)
	}
	for _, msg := range result.Errors {
		fmt.Fprintf(formatter.Writer, "  %s\n", msg)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d issue(s)", total))
}
