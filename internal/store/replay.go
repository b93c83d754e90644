package store

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/tickgraph/tickgraph/internal/sim"
)

// Divergence is the first point where a replayed run's log differs from
// the stored one.
type Divergence struct {
	Sequence int64
	Field    string
	Stored   string
	Replayed string
}

func (d *Divergence) String() string {
	return fmt.Sprintf("seq %d: %s: stored %q, replayed %q", d.Sequence, d.Field, d.Stored, d.Replayed)
}

// CompareRun replays a stored run's log against freshly produced entries
// and returns the first divergence, or nil when the logs match exactly.
// A deterministic engine (seeded, sequential token IDs) must match.
func (s *Store) CompareRun(ctx context.Context, runID string, replayed []sim.Entry) (*Divergence, error) {
	stored, err := s.ReadLog(ctx, runID)
	if err != nil {
		return nil, err
	}

	n := len(stored)
	if len(replayed) < n {
		n = len(replayed)
	}
	for i := 0; i < n; i++ {
		if d := diffEntry(stored[i], replayed[i]); d != nil {
			return d, nil
		}
	}
	if len(stored) != len(replayed) {
		return &Divergence{
			Sequence: int64(n + 1),
			Field:    "length",
			Stored:   fmt.Sprintf("%d entries", len(stored)),
			Replayed: fmt.Sprintf("%d entries", len(replayed)),
		}, nil
	}
	return nil, nil
}

func diffEntry(stored, replayed sim.Entry) *Divergence {
	diff := func(field, a, b string) *Divergence {
		return &Divergence{Sequence: stored.Sequence, Field: field, Stored: a, Replayed: b}
	}

	if stored.Sequence != replayed.Sequence {
		return diff("sequence", fmt.Sprint(stored.Sequence), fmt.Sprint(replayed.Sequence))
	}
	if stored.Tick != replayed.Tick {
		return diff("tick", fmt.Sprint(stored.Tick), fmt.Sprint(replayed.Tick))
	}
	if stored.Timestamp != replayed.Timestamp {
		return diff("timestamp", fmt.Sprint(stored.Timestamp), fmt.Sprint(replayed.Timestamp))
	}
	if stored.NodeID != replayed.NodeID {
		return diff("nodeId", stored.NodeID, replayed.NodeID)
	}
	if stored.Action != replayed.Action {
		return diff("action", string(stored.Action), string(replayed.Action))
	}
	if stored.State != replayed.State {
		return diff("state", stored.State, replayed.State)
	}
	if stored.BufferSize != replayed.BufferSize {
		return diff("bufferSize", fmt.Sprint(stored.BufferSize), fmt.Sprint(replayed.BufferSize))
	}
	if stored.OutputBufferSize != replayed.OutputBufferSize {
		return diff("outputBufferSize", fmt.Sprint(stored.OutputBufferSize), fmt.Sprint(replayed.OutputBufferSize))
	}
	if stored.Details != replayed.Details {
		return diff("details", stored.Details, replayed.Details)
	}
	if !valueEqual(stored.Value, replayed.Value) {
		return diff("value", fmt.Sprint(stored.Value), fmt.Sprint(replayed.Value))
	}
	return nil
}

// valueEqual compares values through their JSON encoding: stored values
// come back from SQLite as generic JSON types (float64, map[string]any)
// while replayed ones keep their in-memory Go types.
func valueEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return string(aj) == string(bj)
}
