package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/tickgraph/tickgraph/internal/scenario"
	"github.com/tickgraph/tickgraph/internal/sim"
)

// Result is the outcome of executing a case.
type Result struct {
	Snapshot sim.Snapshot
	Trace    []sim.Entry
}

// Run executes a case to completion. The engine runs with the case's seed
// and sequential token IDs, so the same case always produces the same
// trace.
func Run(c *Case) (*Result, error) {
	scn, err := scenario.LoadFile(c.Scenario)
	if err != nil {
		return nil, fmt.Errorf("case %s: %w", c.Name, err)
	}

	eng, err := sim.New(scn, sim.Options{
		Step:   c.Step,
		Seed:   c.Seed,
		IDs:    sim.NewSequentialGenerator(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		return nil, fmt.Errorf("case %s: %w", c.Name, err)
	}

	// Group triggers by when they fire; within a tick they fire in case
	// declaration order.
	triggers := make(map[int][]TriggerStep)
	for _, trig := range c.Triggers {
		triggers[trig.AfterTick] = append(triggers[trig.AfterTick], trig)
	}

	ctx := context.Background()
	snap := eng.Snapshot()
	for tick := 0; tick < c.Ticks; tick++ {
		for _, trig := range triggers[tick] {
			if err := eng.TriggerManual(trig.Node, trig.Transition); err != nil {
				return nil, fmt.Errorf("case %s: trigger after tick %d: %w", c.Name, tick, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		snap = eng.Tick()
	}

	return &Result{Snapshot: snap, Trace: eng.Log().All()}, nil
}

// RunFile loads and executes a case file.
func RunFile(path string) (*Case, *Result, error) {
	c, err := LoadCase(path)
	if err != nil {
		return nil, nil, err
	}
	result, err := Run(c)
	if err != nil {
		return c, nil, err
	}
	return c, result, nil
}

// Check evaluates every assertion against the result. All failures are
// returned, not just the first.
func Check(c *Case, result *Result) []error {
	var failures []error
	for i, a := range c.Assertions {
		if err := checkAssertion(&a, result); err != nil {
			failures = append(failures, fmt.Errorf("assertions[%d] (%s): %w", i, a.Type, err))
		}
	}
	return failures
}

func checkAssertion(a *Assertion, result *Result) error {
	switch a.Type {
	case AssertLogContains:
		for _, e := range result.Trace {
			if matchesEntry(a, e) {
				return nil
			}
		}
		return fmt.Errorf("no %q entry for node %s matching %q", a.Action, a.Node, a.Details)

	case AssertLogCount:
		count := 0
		for _, e := range result.Trace {
			if matchesEntry(a, e) {
				count++
			}
		}
		if count != a.Count {
			return fmt.Errorf("node %s logged %q %d time(s), want %d", a.Node, a.Action, count, a.Count)
		}
		return nil

	case AssertLogOrder:
		next := 0
		for _, e := range result.Trace {
			if next < len(a.Steps) && a.Steps[next] == e.NodeID+":"+string(e.Action) {
				next++
			}
		}
		if next != len(a.Steps) {
			return fmt.Errorf("step %q never appeared after its predecessors", a.Steps[next])
		}
		return nil

	case AssertFinalState:
		st, ok := result.Snapshot.NodeStates[a.Node]
		if !ok {
			return fmt.Errorf("node %s absent from snapshot (top level has %v)", a.Node, snapshotNodes(result))
		}
		if a.State != "" && st.State != a.State {
			return fmt.Errorf("node %s finished in state %q, want %q", a.Node, st.State, a.State)
		}
		if a.Consumed != nil && st.ConsumedTokenCount != *a.Consumed {
			return fmt.Errorf("node %s consumed %d token(s), want %d", a.Node, st.ConsumedTokenCount, *a.Consumed)
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func matchesEntry(a *Assertion, e sim.Entry) bool {
	if e.NodeID != a.Node || string(e.Action) != a.Action {
		return false
	}
	return a.Details == "" || strings.Contains(e.Details, a.Details)
}

func snapshotNodes(result *Result) []string {
	ids := make([]string, 0, len(result.Snapshot.NodeStates))
	for id := range result.Snapshot.NodeStates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
