package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/tickgraph/tickgraph/internal/sim"
)

// TraceSnapshot is the golden-file rendering of a case execution: the case
// name plus every activity log entry, serialized canonically so byte
// comparison is meaningful.
type TraceSnapshot struct {
	Name  string
	Trace []sim.Entry
}

// toCanonicalMap renders the snapshot as plain maps for MarshalCanonical.
// Zero-valued optional fields are omitted to keep golden files readable.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, e := range s.Trace {
		entry := map[string]any{
			"seq":    e.Sequence,
			"tick":   e.Tick,
			"t":      e.Timestamp,
			"node":   e.NodeID,
			"action": string(e.Action),
			"state":  e.State,
		}
		if e.Value != nil {
			entry["value"] = e.Value
		}
		if e.BufferSize > 0 {
			entry["buffer"] = e.BufferSize
		}
		if e.OutputBufferSize > 0 {
			entry["outputBuffer"] = e.OutputBufferSize
		}
		if e.Details != "" {
			entry["details"] = e.Details
		}
		trace[i] = entry
	}
	return map[string]any{
		"name":  s.Name,
		"trace": trace,
	}
}

// RunWithGolden executes a case, checks its assertions, and compares the
// canonical trace against testdata/golden/{case.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, c *Case) {
	t.Helper()

	result, err := Run(c)
	if err != nil {
		t.Fatalf("case %s: %v", c.Name, err)
	}
	for _, failure := range Check(c, result) {
		t.Errorf("case %s: %v", c.Name, failure)
	}

	AssertGolden(t, c.Name, result)
}

// AssertGolden compares a result's trace against a golden file without
// re-running the case.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	snapshot := TraceSnapshot{Name: name, Trace: result.Trace}
	traceJSON, err := MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		t.Fatalf("case %s: canonical marshal: %v", name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, traceJSON)
}
