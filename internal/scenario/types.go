// Package scenario defines the engine's configuration input: the Scenario
// document, its node variants, and load-time validation.
//
// A Scenario is immutable per tick. The engine receives a validated Scenario,
// never raw JSON; everything malformed is rejected here as a ConfigError
// before any runtime state exists.
package scenario

import (
	"encoding/json"
	"fmt"

	"github.com/tickgraph/tickgraph/internal/fsm"
)

// CurrentVersion is written into scenarios this code serializes.
const CurrentVersion = 1

// NodeType discriminates the Node tagged union.
type NodeType string

const (
	TypeDataSource NodeType = "DataSource"
	TypeQueue      NodeType = "Queue"
	TypeProcess    NodeType = "ProcessNode"
	TypeFSMProcess NodeType = "FSMProcessNode"
	TypeSink       NodeType = "Sink"
	TypeModule     NodeType = "Module"
	TypeGroup      NodeType = "Group"
)

// nodeTypes is the closed set of known discriminators.
var nodeTypes = map[NodeType]bool{
	TypeDataSource: true,
	TypeQueue:      true,
	TypeProcess:    true,
	TypeFSMProcess: true,
	TypeSink:       true,
	TypeModule:     true,
	TypeGroup:      true,
}

// Scenario is the full graph description.
type Scenario struct {
	Version int    `json:"version"`
	Nodes   []Node `json:"nodes"`
}

// Position places a node on the editing canvas. The engine never reads it
// but must round-trip it losslessly.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is the tagged union of all node variants. Common fields live here;
// exactly one Config variant is set, matching Type.
type Node struct {
	ID          string   `json:"nodeId"`
	Type        NodeType `json:"type"`
	DisplayName string   `json:"displayName,omitempty"`
	Position    Position `json:"position"`
	Tags        []string `json:"tags,omitempty"`

	Config NodeConfig `json:"-"`
}

// NodeConfig is the sealed per-type configuration interface.
type NodeConfig interface {
	nodeConfig()
}

// GenerationType selects how a DataSource produces values.
type GenerationType string

const (
	// GenerateRandom draws uniformly from [ValueMin, ValueMax].
	GenerateRandom GenerationType = "random"
	// GenerateConstant always emits Value.
	GenerateConstant GenerationType = "constant"
)

// Generation configures DataSource value production.
type Generation struct {
	Type     GenerationType `json:"type"`
	ValueMin float64        `json:"valueMin,omitempty"`
	ValueMax float64        `json:"valueMax,omitempty"`
	Value    float64        `json:"value,omitempty"`
}

// OutputPort declares an outgoing edge. Formula is evaluated for nodes that
// compute their outputs (ProcessNode, FSM emit actions); DataSource outputs
// carry the generated value unchanged and leave Formula empty.
type OutputPort struct {
	Name              string `json:"name,omitempty"`
	DestinationNodeID string `json:"destinationNodeId"`
	Formula           string `json:"formula,omitempty"`
}

// InputPort declares an incoming edge with a local alias. The alias names
// the binding formulas use (`alias.data.value`). NodeID names the upstream
// source; empty means the port is disconnected.
type InputPort struct {
	Name     string `json:"name"`
	NodeID   string `json:"nodeId,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// DataSourceConfig: emits a generated token to every output each time
// Interval simulated seconds elapse since the previous emission.
type DataSourceConfig struct {
	Interval   float64      `json:"interval"`
	Generation Generation   `json:"generation"`
	Outputs    []OutputPort `json:"outputs"`
}

func (*DataSourceConfig) nodeConfig() {}

// TriggerKind selects what fires Queue aggregation.
type TriggerKind string

const (
	// TriggerTime fires when the configured window elapses.
	TriggerTime TriggerKind = "time"
	// TriggerCount fires when the buffer reaches Threshold tokens.
	TriggerCount TriggerKind = "count"
)

// Trigger configures when a Queue aggregates.
type Trigger struct {
	Type      TriggerKind `json:"type"`
	Window    float64     `json:"window,omitempty"`
	Threshold int         `json:"threshold,omitempty"`
}

// AggregationMethod selects how buffered tokens combine into one.
type AggregationMethod string

const (
	AggregateSum     AggregationMethod = "sum"
	AggregateAverage AggregationMethod = "average"
	AggregateCount   AggregationMethod = "count"
	AggregateMin     AggregationMethod = "min"
	AggregateMax     AggregationMethod = "max"
	// AggregateFormula evaluates Formula over the buffered tokens.
	AggregateFormula AggregationMethod = "formula"
)

// Aggregation configures a Queue's combine step.
type Aggregation struct {
	Method  AggregationMethod `json:"method"`
	Formula string            `json:"formula,omitempty"`
	Trigger Trigger           `json:"trigger"`
}

// QueueConfig: buffers tokens up to Capacity and emits one aggregated token
// downstream when the trigger fires.
type QueueConfig struct {
	Capacity          int         `json:"capacity"`
	Aggregation       Aggregation `json:"aggregation"`
	DestinationNodeID string      `json:"destinationNodeId"`
}

func (*QueueConfig) nodeConfig() {}

// ProcessConfig: fires when all required inputs hold a token, evaluating
// each output's formula against the consumed inputs.
type ProcessConfig struct {
	Inputs  []InputPort  `json:"inputs"`
	Outputs []OutputPort `json:"outputs"`
}

func (*ProcessConfig) nodeConfig() {}

// FSMProcessConfig: an FSM-driven node. Event inputs pass through
// interpretation rules; message inputs feed the transition matcher directly.
type FSMProcessConfig struct {
	FSM           fsm.Definition `json:"fsm"`
	EventInputs   []InputPort    `json:"eventInputs,omitempty"`
	MessageInputs []InputPort    `json:"messageInputs,omitempty"`
	Outputs       []OutputPort   `json:"outputs,omitempty"`
}

func (*FSMProcessConfig) nodeConfig() {}

// SinkConfig: terminal consumer. No configuration beyond the common fields.
type SinkConfig struct{}

func (*SinkConfig) nodeConfig() {}

// ModulePort maps a module-level port to a node inside the sub-graph.
type ModulePort struct {
	Name string `json:"name"`
	// NodeID is the internal node: the delivery target for inputs, the
	// declared emitter for outputs.
	NodeID string `json:"nodeId"`
	// DestinationNodeID is where an output port forwards, in the parent
	// graph's namespace. Inputs leave it empty.
	DestinationNodeID string `json:"destinationNodeId,omitempty"`
}

// ModuleConfig wraps an internal sub-graph behind declared ports. The
// sub-graph is scheduled exactly like the top-level graph.
type ModuleConfig struct {
	Nodes   []Node       `json:"nodes"`
	Inputs  []ModulePort `json:"inputs,omitempty"`
	Outputs []ModulePort `json:"outputs,omitempty"`
}

func (*ModuleConfig) nodeConfig() {}

// GroupConfig is a purely organizational container: it aggregates the nodes
// carrying Tag for display and never participates in routing.
type GroupConfig struct {
	Tag string `json:"tag"`
}

func (*GroupConfig) nodeConfig() {}

// NodeByID returns the node with the given ID, or nil.
func (s *Scenario) NodeByID(id string) *Node {
	for i := range s.Nodes {
		if s.Nodes[i].ID == id {
			return &s.Nodes[i]
		}
	}
	return nil
}

// Clone deep-copies a scenario via its JSON codec. Used to keep applied
// scenarios isolated from later caller mutation.
func (s *Scenario) Clone() (*Scenario, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("clone scenario: %w", err)
	}
	var out Scenario
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("clone scenario: %w", err)
	}
	return &out, nil
}
