package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickgraph/tickgraph/internal/fsm"
)

func fsmWithEmit(output string) fsm.Definition {
	return fsm.Definition{
		InitialState: "s",
		States: []fsm.State{
			{ID: "s", Type: fsm.StateInitial, OnEntry: []fsm.Action{
				{Type: fsm.ActionEmit, Output: output, Formula: "1"},
			}},
		},
	}
}

const basicScenario = `{
  "version": 1,
  "nodes": [
    {
      "nodeId": "src",
      "type": "DataSource",
      "displayName": "Sensor",
      "position": {"x": 0, "y": 0},
      "interval": 5,
      "generation": {"type": "constant", "value": 2},
      "outputs": [{"destinationNodeId": "q1"}]
    },
    {
      "nodeId": "q1",
      "type": "Queue",
      "position": {"x": 120, "y": 0},
      "capacity": 10,
      "aggregation": {"method": "sum", "trigger": {"type": "count", "threshold": 3}},
      "destinationNodeId": "out"
    },
    {
      "nodeId": "out",
      "type": "Sink",
      "position": {"x": 240, "y": 0}
    }
  ]
}`

func TestLoad_Basic(t *testing.T) {
	s, err := Load([]byte(basicScenario))
	require.NoError(t, err)
	require.Len(t, s.Nodes, 3)

	src := s.NodeByID("src")
	require.NotNil(t, src)
	assert.Equal(t, TypeDataSource, src.Type)
	assert.Equal(t, "Sensor", src.DisplayName)

	ds, ok := src.Config.(*DataSourceConfig)
	require.True(t, ok)
	assert.Equal(t, 5.0, ds.Interval)
	assert.Equal(t, GenerateConstant, ds.Generation.Type)
	assert.Equal(t, 2.0, ds.Generation.Value)
	require.Len(t, ds.Outputs, 1)
	assert.Equal(t, "q1", ds.Outputs[0].DestinationNodeID)

	q, ok := s.NodeByID("q1").Config.(*QueueConfig)
	require.True(t, ok)
	assert.Equal(t, 10, q.Capacity)
	assert.Equal(t, AggregateSum, q.Aggregation.Method)
	assert.Equal(t, TriggerCount, q.Aggregation.Trigger.Type)
}

func TestRoundTrip_Lossless(t *testing.T) {
	s, err := Load([]byte(basicScenario))
	require.NoError(t, err)

	data, err := Marshal(s)
	require.NoError(t, err)

	again, err := Load(data)
	require.NoError(t, err)
	assert.Equal(t, s, again, "serialize then deserialize must be identity")
}

func TestDecodeYAML(t *testing.T) {
	src := `
version: 1
nodes:
  - nodeId: src
    type: DataSource
    position: {x: 0, y: 0}
    interval: 2.5
    generation: {type: random, valueMin: 1, valueMax: 9}
    outputs:
      - destinationNodeId: out
  - nodeId: out
    type: Sink
    position: {x: 50, y: 0}
`
	s, err := DecodeYAML([]byte(src))
	require.NoError(t, err)
	require.Empty(t, Validate(s))

	ds := s.NodeByID("src").Config.(*DataSourceConfig)
	assert.Equal(t, 2.5, ds.Interval)
	assert.Equal(t, GenerateRandom, ds.Generation.Type)
	assert.Equal(t, 9.0, ds.Generation.ValueMax)
}

func TestDecodeJSON_UnknownNodeType(t *testing.T) {
	_, err := DecodeJSON([]byte(`{"version":1,"nodes":[{"nodeId":"x","type":"Teleporter"}]}`))
	require.Error(t, err)
	ce, ok := err.(*ConfigError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeBadConfig, ce.Code)
	assert.Contains(t, ce.Message, "Teleporter")
}

func TestValidateSchema_RejectsWrongTypes(t *testing.T) {
	bad := `{
  "version": 1,
  "nodes": [
    {
      "nodeId": "src",
      "type": "DataSource",
      "interval": "five",
      "generation": {"type": "constant", "value": 1},
      "outputs": []
    }
  ]
}`
	err := ValidateSchema([]byte(bad))
	require.Error(t, err)
	assert.Equal(t, ErrCodeSchema, err.(*ConfigError).Code)
}

func TestValidateSchema_RejectsUnknownFields(t *testing.T) {
	bad := `{
  "version": 1,
  "nodes": [
    {
      "nodeId": "out",
      "type": "Sink",
      "turbo": true
    }
  ]
}`
	err := ValidateSchema([]byte(bad))
	require.Error(t, err)
}

func TestValidate_DuplicateAndDangling(t *testing.T) {
	s := &Scenario{
		Version: 1,
		Nodes: []Node{
			{ID: "a", Type: TypeSink, Config: &SinkConfig{}},
			{ID: "a", Type: TypeSink, Config: &SinkConfig{}},
			{ID: "src", Type: TypeDataSource, Config: &DataSourceConfig{
				Interval:   1,
				Generation: Generation{Type: GenerateConstant, Value: 1},
				Outputs:    []OutputPort{{DestinationNodeID: "missing"}},
			}},
		},
	}

	errs := Validate(s)
	codes := map[string]bool{}
	for _, e := range errs {
		codes[e.Code] = true
	}
	assert.True(t, codes[ErrCodeDuplicate])
	assert.True(t, codes[ErrCodeDangling])
}

func TestValidate_GroupIsNotRoutable(t *testing.T) {
	s := &Scenario{
		Version: 1,
		Nodes: []Node{
			{ID: "src", Type: TypeDataSource, Config: &DataSourceConfig{
				Interval:   1,
				Generation: Generation{Type: GenerateConstant, Value: 1},
				Outputs:    []OutputPort{{DestinationNodeID: "g"}},
			}},
			{ID: "g", Type: TypeGroup, Config: &GroupConfig{Tag: "stage-1"}},
		},
	}

	errs := Validate(s)
	require.NotEmpty(t, errs)
	assert.Equal(t, ErrCodeGroupDest, errs[0].Code)
}

func TestValidate_QueueConfig(t *testing.T) {
	s := &Scenario{
		Version: 1,
		Nodes: []Node{
			{ID: "q", Type: TypeQueue, Config: &QueueConfig{
				Capacity: 0,
				Aggregation: Aggregation{
					Method:  AggregateFormula,
					Trigger: Trigger{Type: TriggerTime, Window: 0},
				},
				DestinationNodeID: "out",
			}},
			{ID: "out", Type: TypeSink, Config: &SinkConfig{}},
		},
	}

	errs := Validate(s)
	joined := ""
	for _, e := range errs {
		joined += e.Error() + "\n"
	}
	assert.Contains(t, joined, "capacity must be positive")
	assert.Contains(t, joined, "requires a formula")
	assert.Contains(t, joined, "positive window")
}

func TestValidate_ModulePorts(t *testing.T) {
	s := &Scenario{
		Version: 1,
		Nodes: []Node{
			{ID: "src", Type: TypeDataSource, Config: &DataSourceConfig{
				Interval:   1,
				Generation: Generation{Type: GenerateConstant, Value: 1},
				Outputs:    []OutputPort{{DestinationNodeID: "mod.feed"}},
			}},
			{ID: "mod", Type: TypeModule, Config: &ModuleConfig{
				Nodes: []Node{
					{ID: "inner", Type: TypeSink, Config: &SinkConfig{}},
				},
				Inputs: []ModulePort{{Name: "feed", NodeID: "inner"}},
			}},
		},
	}
	require.Empty(t, Validate(s))

	// Unknown port name on an otherwise valid module.
	src := s.Nodes[0].Config.(*DataSourceConfig)
	src.Outputs[0].DestinationNodeID = "mod.nope"
	errs := Validate(s)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, `no input port "nope"`)

	// Bare module ID is not routable; ports must be named.
	src.Outputs[0].DestinationNodeID = "mod"
	errs = Validate(s)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, "input port")
}

func TestValidate_FSMEmitUndeclaredOutputIsAllowed(t *testing.T) {
	// The port springs into existence at runtime, unconnected, so the
	// scenario must load.
	s := &Scenario{
		Version: 1,
		Nodes: []Node{
			{ID: "fsm1", Type: TypeFSMProcess, Config: &FSMProcessConfig{
				FSM: fsmWithEmit("ghost"),
			}},
		},
	}

	assert.Empty(t, Validate(s))
}

func TestValidateApply_RejectsTypeChange(t *testing.T) {
	old, err := Load([]byte(basicScenario))
	require.NoError(t, err)
	next, err := old.Clone()
	require.NoError(t, err)

	next.Nodes[2] = Node{
		ID: "out", Type: TypeQueue,
		Config: &QueueConfig{
			Capacity: 5,
			Aggregation: Aggregation{
				Method:  AggregateSum,
				Trigger: Trigger{Type: TriggerCount, Threshold: 2},
			},
			DestinationNodeID: "src",
		},
	}
	// Queue now routes to the DataSource, which validates structurally; the
	// type change itself is the rejection.
	errs := ValidateApply(old, next)
	require.NotEmpty(t, errs)
	found := false
	for _, e := range errs {
		if e.Code == ErrCodeTypeChange {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidate_VersionMismatch(t *testing.T) {
	errs := Validate(&Scenario{Version: 99})
	require.NotEmpty(t, errs)
	assert.Equal(t, ErrCodeVersion, errs[0].Code)
}
