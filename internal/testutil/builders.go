// Package testutil provides deterministic helpers for engine tests:
// scenario builders and a fixed token ID generator.
package testutil

import "github.com/tickgraph/tickgraph/internal/scenario"

// Graph assembles nodes into a current-version scenario.
func Graph(nodes ...scenario.Node) *scenario.Scenario {
	return &scenario.Scenario{Version: scenario.CurrentVersion, Nodes: nodes}
}

// ConstSource builds a DataSource that emits value every interval seconds
// to each destination.
func ConstSource(id string, interval, value float64, dests ...string) scenario.Node {
	outputs := make([]scenario.OutputPort, len(dests))
	for i, d := range dests {
		outputs[i] = scenario.OutputPort{DestinationNodeID: d}
	}
	return scenario.Node{
		ID:   id,
		Type: scenario.TypeDataSource,
		Config: &scenario.DataSourceConfig{
			Interval:   interval,
			Generation: scenario.Generation{Type: scenario.GenerateConstant, Value: value},
			Outputs:    outputs,
		},
	}
}

// RandomSource builds a DataSource drawing uniformly from [min, max].
func RandomSource(id string, interval, min, max float64, dests ...string) scenario.Node {
	outputs := make([]scenario.OutputPort, len(dests))
	for i, d := range dests {
		outputs[i] = scenario.OutputPort{DestinationNodeID: d}
	}
	return scenario.Node{
		ID:   id,
		Type: scenario.TypeDataSource,
		Config: &scenario.DataSourceConfig{
			Interval:   interval,
			Generation: scenario.Generation{Type: scenario.GenerateRandom, ValueMin: min, ValueMax: max},
			Outputs:    outputs,
		},
	}
}

// CountQueue builds a Queue firing on a count threshold.
func CountQueue(id string, capacity, threshold int, method scenario.AggregationMethod, dest string) scenario.Node {
	return scenario.Node{
		ID:   id,
		Type: scenario.TypeQueue,
		Config: &scenario.QueueConfig{
			Capacity: capacity,
			Aggregation: scenario.Aggregation{
				Method:  method,
				Trigger: scenario.Trigger{Type: scenario.TriggerCount, Threshold: threshold},
			},
			DestinationNodeID: dest,
		},
	}
}

// TimeQueue builds a Queue firing on a time window.
func TimeQueue(id string, capacity int, window float64, method scenario.AggregationMethod, dest string) scenario.Node {
	return scenario.Node{
		ID:   id,
		Type: scenario.TypeQueue,
		Config: &scenario.QueueConfig{
			Capacity: capacity,
			Aggregation: scenario.Aggregation{
				Method:  method,
				Trigger: scenario.Trigger{Type: scenario.TriggerTime, Window: window},
			},
			DestinationNodeID: dest,
		},
	}
}

// Process builds a ProcessNode with the given input and output ports.
func Process(id string, inputs []scenario.InputPort, outputs []scenario.OutputPort) scenario.Node {
	return scenario.Node{
		ID:     id,
		Type:   scenario.TypeProcess,
		Config: &scenario.ProcessConfig{Inputs: inputs, Outputs: outputs},
	}
}

// In builds a required input port bound to an upstream node.
func In(name, nodeID string) scenario.InputPort {
	return scenario.InputPort{Name: name, NodeID: nodeID, Required: true}
}

// Out builds an output port with a formula.
func Out(dest, formula string) scenario.OutputPort {
	return scenario.OutputPort{DestinationNodeID: dest, Formula: formula}
}

// Sink builds a terminal consumer.
func Sink(id string) scenario.Node {
	return scenario.Node{ID: id, Type: scenario.TypeSink, Config: &scenario.SinkConfig{}}
}
