package sim

import "github.com/tickgraph/tickgraph/internal/scenario"

// NodeState is the read-only runtime view of one node, exported after each
// tick. Which fields are populated depends on the node type.
type NodeState struct {
	NodeID string            `json:"nodeId"`
	Type   scenario.NodeType `json:"type"`
	State  string            `json:"state"`

	// Error holds the latest formula error or feedback refusal, cleared
	// the next time the node fires cleanly.
	Error string `json:"error,omitempty"`

	InputBuffer  []Token `json:"inputBuffer,omitempty"`
	OutputBuffer []Token `json:"outputBuffer,omitempty"`

	LastEmissionTime   float64 `json:"lastEmissionTime,omitempty"`
	LastFiredTime      float64 `json:"lastFiredTime,omitempty"`
	ConsumedTokenCount int     `json:"consumedTokenCount,omitempty"`

	// FSMProcessNode only.
	CurrentFSMState string             `json:"currentFSMState,omitempty"`
	FSMVariables    map[string]any     `json:"fsmVariables,omitempty"`
	InputBuffers    map[string][]Token `json:"inputBuffers,omitempty"`

	// Module only.
	SubGraphStates map[string]NodeState `json:"subGraphStates,omitempty"`

	// Group only.
	MemberNodes []string `json:"memberNodes,omitempty"`
}

// Snapshot is the per-tick export consumed by callers: every node's state,
// every node's activity log, and the simulated time, all copies detached
// from engine internals.
type Snapshot struct {
	Tick        int64                `json:"tick"`
	CurrentTime float64              `json:"currentTime"`
	NodeStates  map[string]NodeState `json:"nodeStates"`
	ActivityLog map[string][]Entry   `json:"nodeActivityLogs"`
}

func copyTokens(src []Token) []Token {
	if len(src) == 0 {
		return nil
	}
	out := make([]Token, len(src))
	copy(out, src)
	return out
}

func copyVars(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
