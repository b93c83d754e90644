// Package sim is the discrete-time simulation core: the clock, the node
// runtimes, token routing, feedback control, and the activity log.
//
// The engine is single-writer by design. One goroutine drives ticks; all
// node evaluation runs to completion before emitted tokens commit, so no
// node ever observes a partially-updated buffer from the same tick.
package sim

// Token is the immutable unit of data flowing along a graph edge.
type Token struct {
	ID        string         `json:"id"`
	Origin    string         `json:"origin"`
	EmittedAt float64        `json:"emittedAt"`
	Payload   map[string]any `json:"payload"`

	// Path lists the emitting nodes along the causal chain that produced
	// this token, oldest first. Feedback depth is derived from it.
	Path []string `json:"path,omitempty"`
}

// childPath builds the path for a token derived from this one.
func (t Token) childPath(emitter string) []string {
	out := make([]string, 0, len(t.Path)+1)
	out = append(out, t.Path...)
	return append(out, emitter)
}

// depthOf counts how many times a node already appears in the path, which
// is the number of times the chain has re-entered it.
func (t Token) depthOf(node string) int {
	n := 0
	for _, p := range t.Path {
		if p == node {
			n++
		}
	}
	return n
}

// value extracts the numeric payload most aggregations care about.
func (t Token) value() (float64, bool) {
	if t.Payload == nil {
		return 0, false
	}
	v, ok := t.Payload["value"]
	if !ok {
		return 0, false
	}
	return asFloat(v)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
