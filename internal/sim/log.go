package sim

import (
	"sync"
	"sync/atomic"
)

// Action classifies an activity log entry.
type Action string

const (
	ActionTokenReceived   Action = "token_received"
	ActionEmitting        Action = "emitting"
	ActionTokenDropped    Action = "token_dropped"
	ActionConsuming       Action = "consuming"
	ActionBatchReady      Action = "batch_ready"
	ActionStateChange     Action = "state_change"
	ActionLog             Action = "log"
	ActionFormulaError    Action = "FORMULA_ERROR"
	ActionFeedbackRefused Action = "feedback_refused"
	ActionError           Action = "error"
)

// Entry is one append-only activity log record. Entries are never mutated
// after append; the log is the authoritative source for "what was this
// node's state at time T".
type Entry struct {
	Sequence         int64   `json:"sequence"`
	Tick             int64   `json:"tick"`
	Timestamp        float64 `json:"timestamp"`
	NodeID           string  `json:"nodeId"`
	Action           Action  `json:"action"`
	Value            any     `json:"value,omitempty"`
	State            string  `json:"state"`
	BufferSize       int     `json:"bufferSize"`
	OutputBufferSize int     `json:"outputBufferSize"`
	Details          string  `json:"details,omitempty"`
}

// ActivityLog is the per-node, sequence-numbered event record. One global
// counter stamps every entry, so sequences are strictly increasing per node
// and totally ordered across the run.
type ActivityLog struct {
	mu      sync.Mutex
	seq     atomic.Int64
	byNode  map[string][]Entry
	ordered []Entry
}

func NewActivityLog() *ActivityLog {
	return &ActivityLog{byNode: make(map[string][]Entry)}
}

// Append stamps the entry with the next sequence number and records it.
// The stamped entry is returned.
func (l *ActivityLog) Append(e Entry) Entry {
	e.Sequence = l.seq.Add(1)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.byNode[e.NodeID] = append(l.byNode[e.NodeID], e)
	l.ordered = append(l.ordered, e)
	return e
}

// NodeEntries returns a copy of one node's entries in append order.
func (l *ActivityLog) NodeEntries(nodeID string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.byNode[nodeID]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// All returns a copy of every entry in global sequence order.
func (l *ActivityLog) All() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.ordered))
	copy(out, l.ordered)
	return out
}

// PerNode returns a copy of the full per-node view, as exported in
// snapshots.
func (l *ActivityLog) PerNode() map[string][]Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string][]Entry, len(l.byNode))
	for id, entries := range l.byNode {
		cp := make([]Entry, len(entries))
		copy(cp, entries)
		out[id] = cp
	}
	return out
}

// Len returns the total number of entries appended.
func (l *ActivityLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ordered)
}
