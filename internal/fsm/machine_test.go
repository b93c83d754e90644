package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoWayDef() *Definition {
	return &Definition{
		InitialState: "idle",
		States: []State{
			{ID: "idle", Type: StateInitial},
			{ID: "fast", Type: StateIntermediate},
			{ID: "slow", Type: StateIntermediate},
			{ID: "done", Type: StateFinal},
		},
		Transitions: []Transition{
			{From: "idle", To: "fast", Trigger: TriggerMessage, Message: "go", Priority: 100},
			{From: "idle", To: "slow", Trigger: TriggerMessage, Message: "go", Priority: 50},
			{From: "fast", To: "done", Trigger: TriggerMessage, Message: "finish"},
		},
	}
}

func TestMachine_PriorityWins(t *testing.T) {
	m := NewMachine(twoWayDef(), 0)

	tr := m.SelectMessage(Message{Name: "go"})
	require.NotNil(t, tr)
	assert.Equal(t, "fast", tr.To, "priority 100 should beat priority 50")

	state := m.Enter(tr, 1.0)
	require.NotNil(t, state)
	assert.Equal(t, "fast", m.Current())
	assert.Equal(t, 1.0, m.EnteredAt())
}

func TestMachine_PrioritySwappedFlipsDestination(t *testing.T) {
	def := twoWayDef()
	def.Transitions[0].Priority = 50
	def.Transitions[1].Priority = 100

	m := NewMachine(def, 0)
	tr := m.SelectMessage(Message{Name: "go"})
	require.NotNil(t, tr)
	assert.Equal(t, "slow", tr.To)
}

func TestMachine_TieBreaksByDeclarationOrder(t *testing.T) {
	def := twoWayDef()
	def.Transitions[0].Priority = 10
	def.Transitions[1].Priority = 10

	m := NewMachine(def, 0)
	tr := m.SelectMessage(Message{Name: "go"})
	require.NotNil(t, tr)
	assert.Equal(t, "fast", tr.To, "first-declared transition wins ties")
}

func TestMachine_NoMatchFromOtherState(t *testing.T) {
	m := NewMachine(twoWayDef(), 0)
	assert.Nil(t, m.SelectMessage(Message{Name: "finish"}), "finish only leaves fast")
	assert.Nil(t, m.SelectMessage(Message{Name: "unknown"}))
}

func TestMachine_EventTriggerOnlyMatchesEvents(t *testing.T) {
	def := &Definition{
		InitialState: "idle",
		States: []State{
			{ID: "idle", Type: StateInitial},
			{ID: "alerted", Type: StateIntermediate},
		},
		Transitions: []Transition{
			{From: "idle", To: "alerted", Trigger: TriggerEvent, Message: "alarm"},
		},
	}
	m := NewMachine(def, 0)

	assert.Nil(t, m.SelectMessage(Message{Name: "alarm"}), "plain message must not match event trigger")

	tr := m.SelectMessage(Message{Name: "alarm", FromEvent: true})
	require.NotNil(t, tr)
	assert.Equal(t, "alerted", tr.To)
}

func TestMachine_TimerFiresAfterDuration(t *testing.T) {
	def := &Definition{
		InitialState: "waiting",
		States: []State{
			{ID: "waiting", Type: StateInitial},
			{ID: "expired", Type: StateFinal},
		},
		Transitions: []Transition{
			{From: "waiting", To: "expired", Trigger: TriggerTimer, Duration: 5},
		},
	}
	m := NewMachine(def, 10)

	assert.Nil(t, m.SelectTimer(14.0), "timer not yet elapsed")

	tr := m.SelectTimer(15.0)
	require.NotNil(t, tr)
	assert.Equal(t, "expired", tr.To)
}

func TestMachine_ConditionUsesVariables(t *testing.T) {
	def := &Definition{
		InitialState: "counting",
		States: []State{
			{ID: "counting", Type: StateInitial},
			{ID: "full", Type: StateFinal},
		},
		Variables: map[string]any{"count": 0.0},
		Transitions: []Transition{
			{From: "counting", To: "full", Trigger: TriggerCondition, Condition: "count >= 3"},
		},
	}
	m := NewMachine(def, 0)

	eval := func(cond string, env map[string]any) (bool, error) {
		n, _ := env["count"].(float64)
		return n >= 3, nil
	}

	tr, err := m.SelectCondition(eval)
	require.NoError(t, err)
	assert.Nil(t, tr)

	m.Vars()["count"] = 3.0
	tr, err = m.SelectCondition(eval)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, "full", tr.To)
}

func TestMachine_ManualTransition(t *testing.T) {
	def := &Definition{
		InitialState: "held",
		States: []State{
			{ID: "held", Type: StateInitial},
			{ID: "released", Type: StateFinal},
		},
		Transitions: []Transition{
			{ID: "release", From: "held", To: "released", Trigger: TriggerManual},
		},
	}
	m := NewMachine(def, 0)

	_, err := m.SelectManual("missing")
	require.Error(t, err)

	tr, err := m.SelectManual("release")
	require.NoError(t, err)
	m.Enter(tr, 2.0)
	assert.Equal(t, "released", m.Current())
	assert.True(t, m.InFinalState())

	_, err = m.SelectManual("release")
	require.Error(t, err, "transition no longer leaves current state")
}

func TestMachine_VariablesAreCopied(t *testing.T) {
	def := &Definition{
		InitialState: "s",
		States:       []State{{ID: "s", Type: StateInitial}},
		Variables:    map[string]any{"x": 1.0},
	}
	m := NewMachine(def, 0)
	m.Vars()["x"] = 99.0

	assert.Equal(t, 1.0, def.Variables["x"], "machine must not mutate the definition")
}

func TestInterpret_PatternRuleWins(t *testing.T) {
	def := &Definition{
		InterpretationRules: []InterpretationRule{
			{ID: "low", Enabled: true, Priority: 1, Method: MethodPassthrough, Message: "fallback"},
			{
				ID: "alarm", Enabled: true, Priority: 10, Method: MethodPattern,
				Conditions: map[string]any{"severity": "high"},
				Message:    "escalate",
				Template:   map[string]string{"source": "${event.source}", "note": "sev ${event.severity} from ${event.source}"},
			},
		},
	}

	msg, errs := def.Interpret(Event{
		Name:   "sensor_alert",
		Fields: map[string]any{"severity": "high", "source": "pump-1"},
	}, nil)
	require.Empty(t, errs)

	assert.Equal(t, "escalate", msg.Name)
	assert.False(t, msg.FromEvent)
	assert.Equal(t, "pump-1", msg.Fields["source"])
	assert.Equal(t, "sev high from pump-1", msg.Fields["note"])
}

func TestInterpret_DisabledRuleSkipped(t *testing.T) {
	def := &Definition{
		InterpretationRules: []InterpretationRule{
			{ID: "off", Enabled: false, Priority: 10, Method: MethodPassthrough, Message: "never"},
		},
	}

	msg, errs := def.Interpret(Event{Name: "ping", Fields: map[string]any{"n": 1}}, nil)
	require.Empty(t, errs)
	assert.Equal(t, "ping", msg.Name)
	assert.True(t, msg.FromEvent, "unclaimed events pass through event-flagged")
	assert.Equal(t, 1, msg.Fields["n"])
}

func TestInterpret_FormulaRule(t *testing.T) {
	def := &Definition{
		InterpretationRules: []InterpretationRule{
			{ID: "big", Enabled: true, Method: MethodFormula, Condition: "event.fields.value > 10", Message: "overflow"},
		},
	}

	eval := func(cond string, env map[string]any) (bool, error) {
		ev := env["event"].(map[string]any)
		fields := ev["fields"].(map[string]any)
		v, _ := fields["value"].(float64)
		return v > 10, nil
	}

	msg, errs := def.Interpret(Event{Name: "reading", Fields: map[string]any{"value": 20.0}}, eval)
	require.Empty(t, errs)
	assert.Equal(t, "overflow", msg.Name)

	msg, errs = def.Interpret(Event{Name: "reading", Fields: map[string]any{"value": 5.0}}, eval)
	require.Empty(t, errs)
	assert.Equal(t, "reading", msg.Name, "unmatched events pass through")
}

func TestValidate_CatchesStructuralProblems(t *testing.T) {
	def := &Definition{
		InitialState: "ghost",
		States: []State{
			{ID: "a", Type: StateInitial},
			{ID: "a", Type: StateIntermediate},
		},
		Transitions: []Transition{
			{From: "a", To: "nowhere", Trigger: TriggerMessage},
			{From: "a", To: "a", Trigger: TriggerTimer},
		},
		InterpretationRules: []InterpretationRule{
			{ID: "r", Enabled: true, Method: "script"},
		},
	}

	errs := def.Validate()
	require.NotEmpty(t, errs)

	joined := ""
	for _, e := range errs {
		joined += e.Error() + "\n"
	}
	assert.Contains(t, joined, "duplicate state id")
	assert.Contains(t, joined, `initialState "ghost"`)
	assert.Contains(t, joined, `to state "nowhere"`)
	assert.Contains(t, joined, "message name")
	assert.Contains(t, joined, "positive duration")
	assert.Contains(t, joined, `unsupported method "script"`)
}

func TestValidate_FeedbackLimits(t *testing.T) {
	def := &Definition{
		InitialState: "s",
		States:       []State{{ID: "s", Type: StateInitial}},
		Feedback: FeedbackConfig{
			Enabled: true,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled: true, Threshold: 0, TimeWindow: 0, CooldownPeriod: 0,
			},
		},
	}

	errs := def.Validate()
	require.Len(t, errs, 4)
}
