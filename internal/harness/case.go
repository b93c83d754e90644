package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Case defines one conformance case. Cases execute a scenario for a fixed
// number of ticks and assert on the resulting activity trace and final
// node states.
type Case struct {
	// Name uniquely identifies this case; golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what this case validates.
	Description string `yaml:"description"`

	// Scenario is the path to the scenario document, relative to the case
	// file location.
	Scenario string `yaml:"scenario"`

	// Ticks is how many ticks to run.
	Ticks int `yaml:"ticks"`

	// Seed drives data source generation. Zero is a valid seed.
	Seed int64 `yaml:"seed,omitempty"`

	// Step is simulated seconds per tick. Zero means 1.0.
	Step float64 `yaml:"step,omitempty"`

	// Triggers fires manual FSM transitions at fixed points in the run.
	Triggers []TriggerStep `yaml:"triggers,omitempty"`

	// Assertions validate the trace and final state.
	// Supported types: log_contains, log_count, log_order, final_state.
	Assertions []Assertion `yaml:"assertions"`
}

// TriggerStep fires a manual transition after the given tick completes.
// AfterTick 0 fires before the first tick.
type TriggerStep struct {
	AfterTick  int    `yaml:"after_tick"`
	Node       string `yaml:"node"`
	Transition string `yaml:"transition"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type selects the check:
	// - "log_contains": node logged the action (optionally with details)
	// - "log_count": node logged the action exactly Count times
	// - "log_order": these node:action pairs appear in sequence order
	// - "final_state": a node's final snapshot matches
	Type string `yaml:"type"`

	// Node is the flattened node key (used by log_contains, log_count,
	// final_state).
	Node string `yaml:"node,omitempty"`

	// Action is the log action name (used by log_contains, log_count).
	Action string `yaml:"action,omitempty"`

	// Details, when set, must be a substring of a matching entry's details
	// (used by log_contains).
	Details string `yaml:"details,omitempty"`

	// Count is the expected number of matches (used by log_count).
	Count int `yaml:"count,omitempty"`

	// Steps lists "node:action" pairs that must appear in this order,
	// not necessarily adjacent (used by log_order).
	Steps []string `yaml:"steps,omitempty"`

	// State is the expected final state string (used by final_state).
	State string `yaml:"state,omitempty"`

	// Consumed is the expected consumed token count, for sinks (used by
	// final_state; negative means unchecked).
	Consumed *int `yaml:"consumed,omitempty"`
}

// Assertion type constants.
const (
	AssertLogContains = "log_contains"
	AssertLogCount    = "log_count"
	AssertLogOrder    = "log_order"
	AssertFinalState  = "final_state"
)

// LoadCase reads and parses a case YAML file. Unknown fields are rejected
// so typos fail loudly; the scenario path is resolved relative to the case
// file.
func LoadCase(path string) (*Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read case file: %w", err)
	}

	var c Case
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&c); err != nil {
		return nil, fmt.Errorf("parse case YAML: %w", err)
	}

	if !filepath.IsAbs(c.Scenario) {
		c.Scenario = filepath.Join(filepath.Dir(path), c.Scenario)
	}

	if err := validateCase(&c); err != nil {
		return nil, fmt.Errorf("invalid case: %w", err)
	}
	return &c, nil
}

func validateCase(c *Case) error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Description == "" {
		return fmt.Errorf("description is required")
	}
	if c.Scenario == "" {
		return fmt.Errorf("scenario is required")
	}
	if _, err := os.Stat(c.Scenario); os.IsNotExist(err) {
		return fmt.Errorf("scenario file not found: %s", c.Scenario)
	}
	if c.Ticks <= 0 {
		return fmt.Errorf("ticks must be positive")
	}

	for i, trig := range c.Triggers {
		if trig.Node == "" || trig.Transition == "" {
			return fmt.Errorf("triggers[%d]: node and transition are required", i)
		}
		if trig.AfterTick < 0 || trig.AfterTick >= c.Ticks {
			return fmt.Errorf("triggers[%d]: after_tick %d outside run of %d tick(s)", i, trig.AfterTick, c.Ticks)
		}
	}

	for i, a := range c.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertLogContains:
		if a.Node == "" || a.Action == "" {
			return fmt.Errorf("assertions[%d]: node and action are required for log_contains", index)
		}
	case AssertLogCount:
		if a.Node == "" || a.Action == "" {
			return fmt.Errorf("assertions[%d]: node and action are required for log_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertLogOrder:
		if len(a.Steps) == 0 {
			return fmt.Errorf("assertions[%d]: steps list is required for log_order", index)
		}
	case AssertFinalState:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for final_state", index)
		}
		if a.State == "" && a.Consumed == nil {
			return fmt.Errorf("assertions[%d]: final_state needs state or consumed", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
