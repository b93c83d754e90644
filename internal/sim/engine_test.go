package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickgraph/tickgraph/internal/fsm"
	"github.com/tickgraph/tickgraph/internal/scenario"
)

func constSource(id string, interval, value float64, dests ...string) scenario.Node {
	outputs := make([]scenario.OutputPort, len(dests))
	for i, d := range dests {
		outputs[i] = scenario.OutputPort{DestinationNodeID: d}
	}
	return scenario.Node{
		ID: id, Type: scenario.TypeDataSource,
		Config: &scenario.DataSourceConfig{
			Interval:   interval,
			Generation: scenario.Generation{Type: scenario.GenerateConstant, Value: value},
			Outputs:    outputs,
		},
	}
}

func sinkNode(id string) scenario.Node {
	return scenario.Node{ID: id, Type: scenario.TypeSink, Config: &scenario.SinkConfig{}}
}

func newTestEngine(t *testing.T, nodes ...scenario.Node) *Engine {
	t.Helper()
	e, err := New(&scenario.Scenario{Version: 1, Nodes: nodes}, Options{
		IDs: NewSequentialGenerator(),
	})
	require.NoError(t, err)
	return e
}

func actionsOf(entries []Entry, act Action) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Action == act {
			out = append(out, e)
		}
	}
	return out
}

func TestDataSource_FirstEmissionAtIntervalThenExactSpacing(t *testing.T) {
	e := newTestEngine(t,
		constSource("src", 5, 2, "out"),
		sinkNode("out"),
	)

	snap, err := e.Run(context.Background(), 4)
	require.NoError(t, err)
	assert.Zero(t, snap.NodeStates["out"].ConsumedTokenCount, "nothing may be emitted before t=interval")

	snap, err = e.Run(context.Background(), 16)
	require.NoError(t, err)
	assert.Equal(t, 20.0, snap.CurrentTime)

	emissions := actionsOf(e.Log().NodeEntries("src"), ActionEmitting)
	require.Len(t, emissions, 4)
	for i, want := range []float64{5, 10, 15, 20} {
		assert.Equal(t, want, emissions[i].Timestamp, "emission %d", i)
	}
	assert.Equal(t, 4, snap.NodeStates["out"].ConsumedTokenCount)
}

func TestDataSource_ResolveFailureSurfacesOnNodeState(t *testing.T) {
	// An unconnected module output port passes validation; the failure is a
	// runtime one, logged at emit and carried on the node's error field.
	e := newTestEngine(t,
		scenario.Node{
			ID: "mod", Type: scenario.TypeModule,
			Config: &scenario.ModuleConfig{
				Nodes:   []scenario.Node{constSource("src", 1, 1, "result")},
				Outputs: []scenario.ModulePort{{Name: "result", NodeID: "src"}},
			},
		},
	)

	snap, err := e.Run(context.Background(), 2)
	require.NoError(t, err)

	logged := actionsOf(e.Log().NodeEntries("mod/src"), ActionError)
	require.NotEmpty(t, logged)
	assert.Contains(t, logged[0].Details, "unconnected")

	inner := snap.NodeStates["mod"].SubGraphStates["src"]
	assert.Contains(t, inner.Error, "unconnected")
}

func TestQueue_CapacityDropAndTimeWindowFiring(t *testing.T) {
	e := newTestEngine(t,
		scenario.Node{
			ID: "q", Type: scenario.TypeQueue,
			Config: &scenario.QueueConfig{
				Capacity: 10,
				Aggregation: scenario.Aggregation{
					Method:  scenario.AggregateSum,
					Trigger: scenario.Trigger{Type: scenario.TriggerTime, Window: 5},
				},
				DestinationNodeID: "out",
			},
		},
		sinkNode("out"),
	)

	// 12 tokens arrive within the first two simulated seconds.
	q := e.runtimes["q"]
	for i := 0; i < 12; i++ {
		q.deliver(e, "feeder", Token{ID: "t", Origin: "feeder", Payload: map[string]any{"value": float64(i + 1)}})
	}

	dropped := actionsOf(e.Log().NodeEntries("q"), ActionTokenDropped)
	assert.Len(t, dropped, 2, "two tokens beyond capacity are dropped")
	assert.Len(t, e.runtimes["q"].(*queueRuntime).buffer, 10)

	snap, err := e.Run(context.Background(), 5)
	require.NoError(t, err)

	emissions := actionsOf(e.Log().NodeEntries("q"), ActionEmitting)
	require.Len(t, emissions, 1)
	assert.Equal(t, 5.0, emissions[0].Timestamp, "window fires at t=5")
	// Sum over the 10 retained tokens: 1..10.
	assert.Equal(t, 55.0, emissions[0].Value)
	assert.Equal(t, 1, snap.NodeStates["out"].ConsumedTokenCount)
}

func TestQueue_TimeWindowBeatsCountThresholdSameTick(t *testing.T) {
	e := newTestEngine(t,
		scenario.Node{
			ID: "q", Type: scenario.TypeQueue,
			Config: &scenario.QueueConfig{
				Capacity: 10,
				Aggregation: scenario.Aggregation{
					Method:  scenario.AggregateCount,
					Trigger: scenario.Trigger{Type: scenario.TriggerTime, Window: 1, Threshold: 3},
				},
				DestinationNodeID: "out",
			},
		},
		sinkNode("out"),
	)

	q := e.runtimes["q"]
	for i := 0; i < 3; i++ {
		q.deliver(e, "feeder", Token{Origin: "feeder", Payload: map[string]any{"value": 1.0}})
	}
	e.Tick()

	batches := actionsOf(e.Log().NodeEntries("q"), ActionBatchReady)
	require.Len(t, batches, 1)
	assert.Contains(t, batches[0].Details, "window", "both satisfied, window wins")
}

func TestQueue_CountTriggerIgnoresStaleWindowField(t *testing.T) {
	e := newTestEngine(t,
		scenario.Node{
			ID: "q", Type: scenario.TypeQueue,
			Config: &scenario.QueueConfig{
				Capacity: 10,
				Aggregation: scenario.Aggregation{
					Method:  scenario.AggregateSum,
					Trigger: scenario.Trigger{Type: scenario.TriggerCount, Threshold: 3, Window: 2},
				},
				DestinationNodeID: "out",
			},
		},
		sinkNode("out"),
	)

	q := e.runtimes["q"]
	q.deliver(e, "feeder", Token{Origin: "feeder", Payload: map[string]any{"value": 1.0}})

	// Well past the leftover window field; the threshold is unmet.
	_, err := e.Run(context.Background(), 4)
	require.NoError(t, err)
	assert.Empty(t, actionsOf(e.Log().NodeEntries("q"), ActionEmitting),
		"a count trigger never fires on elapsed time")

	q.deliver(e, "feeder", Token{Origin: "feeder", Payload: map[string]any{"value": 1.0}})
	q.deliver(e, "feeder", Token{Origin: "feeder", Payload: map[string]any{"value": 1.0}})
	_, err = e.Run(context.Background(), 1)
	require.NoError(t, err)

	batches := actionsOf(e.Log().NodeEntries("q"), ActionBatchReady)
	require.Len(t, batches, 1)
	assert.Contains(t, batches[0].Details, "threshold 3 reached")
}

func TestProcess_RequiresBothInputsAndSumsThem(t *testing.T) {
	e := newTestEngine(t,
		constSource("a", 1, 2, "proc"),
		constSource("b", 1, 3, "proc"),
		scenario.Node{
			ID: "proc", Type: scenario.TypeProcess,
			Config: &scenario.ProcessConfig{
				Inputs: []scenario.InputPort{
					{Name: "inputA", NodeID: "a", Required: true},
					{Name: "inputB", NodeID: "b", Required: true},
				},
				Outputs: []scenario.OutputPort{
					{Formula: "inputA.data.value + inputB.data.value", DestinationNodeID: "out"},
				},
			},
		},
		sinkNode("out"),
	)

	snap, err := e.Run(context.Background(), 3)
	require.NoError(t, err)

	emissions := actionsOf(e.Log().NodeEntries("proc"), ActionEmitting)
	require.Len(t, emissions, 2, "sources emit at t=1..3, process fires t=2 and t=3")
	assert.Equal(t, 5.0, emissions[0].Value)
	assert.Equal(t, 2, snap.NodeStates["out"].ConsumedTokenCount, "one sink consumption per firing")
}

func TestProcess_MissingRequiredInputBlocksFiring(t *testing.T) {
	e := newTestEngine(t,
		constSource("a", 1, 2, "proc"),
		scenario.Node{
			ID: "proc", Type: scenario.TypeProcess,
			Config: &scenario.ProcessConfig{
				Inputs: []scenario.InputPort{
					{Name: "inputA", NodeID: "a", Required: true},
					{Name: "inputB", Required: false},
				},
				Outputs: []scenario.OutputPort{
					{Formula: "inputA.data.value * 10", DestinationNodeID: "out"},
				},
			},
		},
		sinkNode("out"),
	)

	snap, err := e.Run(context.Background(), 2)
	require.NoError(t, err)
	// inputB is optional and disconnected, so the process still fires.
	assert.Equal(t, 1, snap.NodeStates["out"].ConsumedTokenCount)

	emissions := actionsOf(e.Log().NodeEntries("proc"), ActionEmitting)
	require.Len(t, emissions, 1)
	assert.Equal(t, 20.0, emissions[0].Value)
}

func TestProcess_FormulaErrorIsolatedPerOutput(t *testing.T) {
	e := newTestEngine(t,
		constSource("a", 1, 4, "proc"),
		scenario.Node{
			ID: "proc", Type: scenario.TypeProcess,
			Config: &scenario.ProcessConfig{
				Inputs: []scenario.InputPort{{Name: "inputA", NodeID: "a", Required: true}},
				Outputs: []scenario.OutputPort{
					{Formula: "ghost.data.value + 1", DestinationNodeID: "out"},
					{Formula: "inputA.data.value + 1", DestinationNodeID: "out"},
				},
			},
		},
		sinkNode("out"),
	)

	snap, err := e.Run(context.Background(), 2)
	require.NoError(t, err)

	failures := actionsOf(e.Log().NodeEntries("proc"), ActionFormulaError)
	require.Len(t, failures, 1)
	assert.Equal(t, "ghost.data.value + 1", failures[0].Details, "offending formula text is logged")

	emissions := actionsOf(e.Log().NodeEntries("proc"), ActionEmitting)
	require.Len(t, emissions, 1, "sibling output still emits")
	assert.Equal(t, 5.0, emissions[0].Value)
	assert.Equal(t, 1, snap.NodeStates["out"].ConsumedTokenCount)

	assert.NotEmpty(t, snap.NodeStates["proc"].Error, "recent error is surfaced on the node state")
}

func TestEngine_ErrorClearedAfterCleanFiring(t *testing.T) {
	e := newTestEngine(t,
		constSource("a", 1, 1, "proc"),
		scenario.Node{
			ID: "proc", Type: scenario.TypeProcess,
			Config: &scenario.ProcessConfig{
				Inputs:  []scenario.InputPort{{Name: "inputA", NodeID: "a", Required: true}},
				Outputs: []scenario.OutputPort{{Formula: "inputA.data.value", DestinationNodeID: "out"}},
			},
		},
		sinkNode("out"),
	)

	proc := e.runtimes["proc"].(*processRuntime)
	proc.lastError = "stale failure"

	snap, err := e.Run(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, snap.NodeStates["proc"].Error, "clean firing clears the error flag")
}

func fsmTwoWayNode(highFast bool) scenario.Node {
	fastPri, slowPri := 100, 50
	if !highFast {
		fastPri, slowPri = 50, 100
	}
	return scenario.Node{
		ID: "fsm1", Type: scenario.TypeFSMProcess,
		Config: &scenario.FSMProcessConfig{
			FSM: fsm.Definition{
				InitialState: "idle",
				States: []fsm.State{
					{ID: "idle", Type: fsm.StateInitial},
					{ID: "fast", Type: fsm.StateIntermediate},
					{ID: "slow", Type: fsm.StateIntermediate},
				},
				Transitions: []fsm.Transition{
					{From: "idle", To: "fast", Trigger: fsm.TriggerMessage, Message: "go", Priority: fastPri},
					{From: "idle", To: "slow", Trigger: fsm.TriggerMessage, Message: "go", Priority: slowPri},
				},
			},
			MessageInputs: []scenario.InputPort{{Name: "go", NodeID: "src"}},
		},
	}
}

func TestFSM_PriorityWinsAndSwappedPrioritiesFlip(t *testing.T) {
	run := func(highFast bool) string {
		e := newTestEngine(t,
			constSource("src", 1, 1, "fsm1"),
			fsmTwoWayNode(highFast),
		)
		snap, err := e.Run(context.Background(), 2)
		require.NoError(t, err)
		return snap.NodeStates["fsm1"].CurrentFSMState
	}

	assert.Equal(t, "fast", run(true))
	assert.Equal(t, "slow", run(false), "swapping priorities flips the destination state")
}

func TestFSM_EmitOnUndeclaredOutputAutoCreatesPort(t *testing.T) {
	e := newTestEngine(t,
		scenario.Node{
			ID: "fsm1", Type: scenario.TypeFSMProcess,
			Config: &scenario.FSMProcessConfig{
				FSM: fsm.Definition{
					InitialState: "idle",
					States: []fsm.State{
						{ID: "idle", Type: fsm.StateInitial},
						{ID: "hot", Type: fsm.StateIntermediate, OnEntry: []fsm.Action{
							{Type: fsm.ActionEmit, Output: "undeclared", Formula: "7"},
						}},
					},
					Transitions: []fsm.Transition{
						{ID: "heat", From: "idle", To: "hot", Trigger: fsm.TriggerManual},
					},
				},
			},
		},
	)

	require.NoError(t, e.TriggerManual("fsm1", "heat"))

	emissions := actionsOf(e.Log().NodeEntries("fsm1"), ActionEmitting)
	require.Len(t, emissions, 1, "the port springs into existence, unconnected")
	assert.Contains(t, emissions[0].Details, "output undeclared is unconnected")
	assert.Equal(t, 7, emissions[0].Value)
}

func TestFSM_EventInputInterpretationDrivesTransition(t *testing.T) {
	e := newTestEngine(t,
		constSource("sensor", 1, 95, "fsm1"),
		scenario.Node{
			ID: "fsm1", Type: scenario.TypeFSMProcess,
			Config: &scenario.FSMProcessConfig{
				FSM: fsm.Definition{
					InitialState: "normal",
					States: []fsm.State{
						{ID: "normal", Type: fsm.StateInitial},
						{ID: "alert", Type: fsm.StateIntermediate},
					},
					Transitions: []fsm.Transition{
						{From: "normal", To: "alert", Trigger: fsm.TriggerMessage, Message: "overheat"},
					},
					InterpretationRules: []fsm.InterpretationRule{
						{ID: "hot", Enabled: true, Method: fsm.MethodFormula,
							Condition: "event.fields.value > 90",
							Message:   "overheat",
							Template:  map[string]string{"reading": "${event.value}"}},
					},
				},
				EventInputs: []scenario.InputPort{{Name: "reading", NodeID: "sensor"}},
			},
		},
	)

	snap, err := e.Run(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "alert", snap.NodeStates["fsm1"].CurrentFSMState)

	changes := actionsOf(e.Log().NodeEntries("fsm1"), ActionStateChange)
	require.NotEmpty(t, changes)
	assert.Contains(t, changes[0].Details, "normal -> alert")
	assert.Equal(t, 2.0, changes[0].Timestamp, "token delivered at t=1 is interpreted on the next tick")
}

func TestFSM_InterpretationFormulaErrorLogsAndContinues(t *testing.T) {
	e := newTestEngine(t,
		constSource("sensor", 1, 95, "fsm1"),
		scenario.Node{
			ID: "fsm1", Type: scenario.TypeFSMProcess,
			Config: &scenario.FSMProcessConfig{
				FSM: fsm.Definition{
					InitialState: "normal",
					States: []fsm.State{
						{ID: "normal", Type: fsm.StateInitial},
						{ID: "alert", Type: fsm.StateIntermediate},
					},
					Transitions: []fsm.Transition{
						{From: "normal", To: "alert", Trigger: fsm.TriggerMessage, Message: "overheat"},
					},
					InterpretationRules: []fsm.InterpretationRule{
						{ID: "broken", Enabled: true, Method: fsm.MethodFormula,
							Condition: "pressure > 90", Message: "overheat"},
					},
				},
				EventInputs: []scenario.InputPort{{Name: "reading", NodeID: "sensor"}},
			},
		},
	)

	snap, err := e.Run(context.Background(), 3)
	require.NoError(t, err)

	failures := actionsOf(e.Log().NodeEntries("fsm1"), ActionFormulaError)
	require.NotEmpty(t, failures, "the broken rule is logged, not fatal")
	assert.Equal(t, "normal", snap.NodeStates["fsm1"].CurrentFSMState,
		"the erroring rule claims no event, so no transition fires")
	assert.NotEmpty(t, snap.NodeStates["fsm1"].Error)
}

func TestFSM_FinalStateDropsInputAndRefusesManual(t *testing.T) {
	e := newTestEngine(t,
		constSource("src", 1, 1, "fsm1"),
		scenario.Node{
			ID: "fsm1", Type: scenario.TypeFSMProcess,
			Config: &scenario.FSMProcessConfig{
				FSM: fsm.Definition{
					InitialState: "idle",
					States: []fsm.State{
						{ID: "idle", Type: fsm.StateInitial},
						{ID: "done", Type: fsm.StateFinal},
					},
					Transitions: []fsm.Transition{
						{ID: "finish", From: "idle", To: "done", Trigger: fsm.TriggerManual},
					},
				},
				MessageInputs: []scenario.InputPort{{Name: "ping", NodeID: "src"}},
			},
		},
	)

	require.NoError(t, e.TriggerManual("fsm1", "finish"))

	snap, err := e.Run(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "done", snap.NodeStates["fsm1"].CurrentFSMState)

	dropped := actionsOf(e.Log().NodeEntries("fsm1"), ActionTokenDropped)
	require.NotEmpty(t, dropped, "tokens queued for a terminal machine are discarded")
	assert.Contains(t, dropped[0].Details, "final state done")

	err = e.TriggerManual("fsm1", "finish")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "final state")
}

func selfFeedbackNode(breaker fsm.CircuitBreakerConfig) scenario.Node {
	return scenario.Node{
		ID: "loop", Type: scenario.TypeFSMProcess,
		Config: &scenario.FSMProcessConfig{
			FSM: fsm.Definition{
				InitialState: "spin",
				States: []fsm.State{
					{ID: "spin", Type: fsm.StateInitial, OnEntry: []fsm.Action{
						{Type: fsm.ActionEmit, Output: "out", Formula: "1"},
					}},
				},
				Transitions: []fsm.Transition{
					{ID: "kick", From: "spin", To: "spin", Trigger: fsm.TriggerManual},
					{From: "spin", To: "spin", Trigger: fsm.TriggerMessage, Message: "again"},
				},
				Feedback: fsm.FeedbackConfig{
					Enabled:        true,
					MaxDepth:       50,
					CircuitBreaker: breaker,
					Routing:        fsm.RoutingConfig{AllowSelfFeedback: true},
				},
			},
			MessageInputs: []scenario.InputPort{{Name: "again", NodeID: "loop"}},
			Outputs:       []scenario.OutputPort{{Name: "out", DestinationNodeID: "loop"}},
		},
	}
}

func TestFeedback_CircuitBreakerOpensAtThresholdAndCoolsDown(t *testing.T) {
	e := newTestEngine(t, selfFeedbackNode(fsm.CircuitBreakerConfig{
		Enabled: true, Threshold: 3, TimeWindow: 10, CooldownPeriod: 5,
	}))

	// Manual kick at t=0, then each delivery re-triggers the loop on the
	// next tick: feedback emissions at t=0, 2, 3 succeed, t=4 trips.
	require.NoError(t, e.TriggerManual("loop", "kick"))

	snap, err := e.Run(context.Background(), 6)
	require.NoError(t, err)

	refused := actionsOf(e.Log().NodeEntries("loop"), ActionFeedbackRefused)
	require.Len(t, refused, 1, "the fourth self-feedback event is refused")
	assert.Equal(t, 4.0, refused[0].Timestamp)
	assert.Contains(t, refused[0].Details, "circuit_breaker_open")

	emitted := actionsOf(e.Log().NodeEntries("loop"), ActionEmitting)
	assert.Len(t, emitted, 3)
	assert.Contains(t, snap.NodeStates["loop"].Error, "circuit breaker")

	// Still open inside the cooldown window.
	require.NoError(t, e.TriggerManual("loop", "kick"))
	refused = actionsOf(e.Log().NodeEntries("loop"), ActionFeedbackRefused)
	require.Len(t, refused, 2, "breaker stays open during cooldown")

	// Advance past t = 6 + 5; the breaker resets closed.
	_, err = e.Run(context.Background(), 6)
	require.NoError(t, err)
	require.NoError(t, e.TriggerManual("loop", "kick"))

	emittedAfter := actionsOf(e.Log().NodeEntries("loop"), ActionEmitting)
	assert.Len(t, emittedAfter, 4, "self-feedback succeeds again after cooldown")
}

func TestFeedback_DisabledRefusesSelfFeedback(t *testing.T) {
	node := selfFeedbackNode(fsm.CircuitBreakerConfig{})
	cfg := node.Config.(*scenario.FSMProcessConfig)
	cfg.FSM.Feedback = fsm.FeedbackConfig{}

	e := newTestEngine(t, node)
	require.NoError(t, e.TriggerManual("loop", "kick"))

	refused := actionsOf(e.Log().NodeEntries("loop"), ActionFeedbackRefused)
	require.Len(t, refused, 1)
	assert.Contains(t, refused[0].Details, "feedback_disabled")
}

func TestFeedback_MaxDepthExceeded(t *testing.T) {
	node := selfFeedbackNode(fsm.CircuitBreakerConfig{})
	cfg := node.Config.(*scenario.FSMProcessConfig)
	cfg.FSM.Feedback.MaxDepth = 2

	e := newTestEngine(t, node)
	require.NoError(t, e.TriggerManual("loop", "kick"))

	// Depth 1 at t=0, depth 2 at t=2, depth 3 refused at t=3.
	_, err := e.Run(context.Background(), 5)
	require.NoError(t, err)

	refused := actionsOf(e.Log().NodeEntries("loop"), ActionFeedbackRefused)
	require.Len(t, refused, 1)
	assert.Contains(t, refused[0].Details, "max_depth_exceeded")
	assert.Equal(t, 3.0, refused[0].Timestamp)
}

func TestModule_RoutesThroughPortsAndAggregatesSubStates(t *testing.T) {
	e := newTestEngine(t,
		constSource("src", 1, 3, "mod.feed"),
		scenario.Node{
			ID: "mod", Type: scenario.TypeModule,
			Config: &scenario.ModuleConfig{
				Nodes: []scenario.Node{
					{
						ID: "inner", Type: scenario.TypeProcess,
						Config: &scenario.ProcessConfig{
							Inputs:  []scenario.InputPort{{Name: "feed", Required: true}},
							Outputs: []scenario.OutputPort{{Formula: "feed.data.value * 2", DestinationNodeID: "result"}},
						},
					},
				},
				Inputs:  []scenario.ModulePort{{Name: "feed", NodeID: "inner"}},
				Outputs: []scenario.ModulePort{{Name: "result", NodeID: "inner", DestinationNodeID: "out"}},
			},
		},
		sinkNode("out"),
	)

	snap, err := e.Run(context.Background(), 3)
	require.NoError(t, err)

	assert.Equal(t, 2, snap.NodeStates["out"].ConsumedTokenCount)

	mod := snap.NodeStates["mod"]
	require.Contains(t, mod.SubGraphStates, "inner")
	assert.Equal(t, scenario.TypeProcess, mod.SubGraphStates["inner"].Type)

	emissions := actionsOf(e.Log().NodeEntries("mod/inner"), ActionEmitting)
	require.NotEmpty(t, emissions)
	assert.Equal(t, 6.0, emissions[0].Value, "inner node doubles the source value")
}

func TestEngine_EvaluationOrderSourcesFirst(t *testing.T) {
	e := newTestEngine(t,
		sinkNode("out"),
		scenario.Node{
			ID: "q", Type: scenario.TypeQueue,
			Config: &scenario.QueueConfig{
				Capacity: 5,
				Aggregation: scenario.Aggregation{
					Method:  scenario.AggregateSum,
					Trigger: scenario.Trigger{Type: scenario.TriggerCount, Threshold: 1},
				},
				DestinationNodeID: "out",
			},
		},
		constSource("src", 1, 1, "q"),
	)

	pos := map[string]int{}
	for i, key := range e.order {
		pos[key] = i
	}
	assert.Less(t, pos["src"], pos["q"])
	assert.Less(t, pos["q"], pos["out"])
}

func TestEngine_ApplyPreservesSurvivingState(t *testing.T) {
	e := newTestEngine(t,
		constSource("src", 1, 1, "out"),
		sinkNode("out"),
	)
	_, err := e.Run(context.Background(), 3)
	require.NoError(t, err)

	next, err := e.Scenario()
	require.NoError(t, err)
	next.Nodes = append(next.Nodes, sinkNode("extra"))
	require.NoError(t, e.Apply(next))

	snap := e.Snapshot()
	assert.Equal(t, 3, snap.NodeStates["out"].ConsumedTokenCount, "sink state survives the edit")
	assert.Contains(t, snap.NodeStates, "extra")
}

func TestEngine_ApplyRejectsTypeChange(t *testing.T) {
	e := newTestEngine(t,
		constSource("src", 1, 1, "out"),
		sinkNode("out"),
	)
	next, err := e.Scenario()
	require.NoError(t, err)
	next.Nodes[1] = constSource("out", 1, 1, "src")

	err = e.Apply(next)
	require.Error(t, err)
	ce, ok := err.(*scenario.ConfigError)
	require.True(t, ok)
	assert.Equal(t, scenario.ErrCodeTypeChange, ce.Code)

	// The running scenario is untouched.
	snap := e.Snapshot()
	assert.Equal(t, scenario.TypeSink, snap.NodeStates["out"].Type)
}

func TestEngine_SeededRunsAreReproducible(t *testing.T) {
	build := func() *Engine {
		e, err := New(&scenario.Scenario{Version: 1, Nodes: []scenario.Node{
			{
				ID: "src", Type: scenario.TypeDataSource,
				Config: &scenario.DataSourceConfig{
					Interval:   1,
					Generation: scenario.Generation{Type: scenario.GenerateRandom, ValueMin: 0, ValueMax: 100},
					Outputs:    []scenario.OutputPort{{DestinationNodeID: "out"}},
				},
			},
			sinkNode("out"),
		}}, Options{Seed: 42, IDs: NewSequentialGenerator()})
		require.NoError(t, err)
		return e
	}

	a, err := build().Run(context.Background(), 10)
	require.NoError(t, err)
	b, err := build().Run(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, a.ActivityLog, b.ActivityLog, "same seed, same run")
}

func TestActivityLog_SequencesStrictlyIncreasePerNode(t *testing.T) {
	e := newTestEngine(t,
		constSource("src", 1, 1, "out"),
		sinkNode("out"),
	)
	_, err := e.Run(context.Background(), 5)
	require.NoError(t, err)

	for _, node := range []string{"src", "out"} {
		entries := e.Log().NodeEntries(node)
		require.NotEmpty(t, entries)
		for i := 1; i < len(entries); i++ {
			assert.Greater(t, entries[i].Sequence, entries[i-1].Sequence)
		}
	}
}
