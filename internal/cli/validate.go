package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tickgraph/tickgraph/internal/scenario"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                    `json:"valid"`
	Errors []*scenario.ConfigError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario-file>",
		Short: "Validate a scenario document without running it",
		Long: `Validate a scenario document without running it.

Checks the document against the embedded CUE schema (JSON input), decodes
it, and runs the full structural validation: duplicate IDs, dangling
destinations, per-type config constraints, module port wiring, FSM
definitions. All errors are reported, not just the first.

Examples:
  tickgraph validate scenario.json
  tickgraph validate scenario.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	errs, err := validateScenarioFile(path, formatter)
	if err != nil {
		_ = formatter.Error(scenario.ErrCodeParse, err.Error(), nil)
		return WrapExitError(ExitCommandError, "cannot read scenario", err)
	}

	if len(errs) > 0 {
		return outputValidationErrors(formatter, errs)
	}

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true})
	}
	fmt.Fprintln(formatter.Writer, "✓ Scenario valid")
	return nil
}

// validateScenarioFile runs every validation stage and collects all errors.
// Unlike scenario.LoadFile it does not stop at the first failure, so the
// caller sees the complete list.
func validateScenarioFile(path string, formatter *OutputFormatter) ([]*scenario.ConfigError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var s *scenario.Scenario
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		formatter.VerboseLog("Decoding YAML scenario %s", path)
		s, err = scenario.DecodeYAML(data)
	default:
		formatter.VerboseLog("Checking %s against CUE schema", path)
		if schemaErr := scenario.ValidateSchema(data); schemaErr != nil {
			if ce, ok := schemaErr.(*scenario.ConfigError); ok {
				return []*scenario.ConfigError{ce}, nil
			}
			return []*scenario.ConfigError{{Code: scenario.ErrCodeSchema, Message: schemaErr.Error()}}, nil
		}
		s, err = scenario.DecodeJSON(data)
	}
	if err != nil {
		if ce, ok := err.(*scenario.ConfigError); ok {
			return []*scenario.ConfigError{ce}, nil
		}
		return []*scenario.ConfigError{{Code: scenario.ErrCodeParse, Message: err.Error()}}, nil
	}

	formatter.VerboseLog("Validating %d top-level node(s)", len(s.Nodes))
	return scenario.Validate(s), nil
}

// outputValidationErrors outputs the collected errors and returns the
// failure exit code.
func outputValidationErrors(formatter *OutputFormatter, errs []*scenario.ConfigError) error {
	if formatter.Format == "json" {
		_ = formatter.Error(errs[0].Code, errs[0].Message, ValidationResult{Valid: false, Errors: errs})
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range errs {
		if e.Path != "" {
			fmt.Fprintf(formatter.Writer, "  %s at %s: %s\n", e.Code, e.Path, e.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n", e.Code, e.Message)
		}
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
