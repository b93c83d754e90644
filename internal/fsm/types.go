// Package fsm implements the finite-state-machine engine used by
// FSMProcessNode: explicit state data, prioritized transitions, entry
// actions, and interpretation rules that convert raw events into messages.
//
// The package owns one canonical in-memory Definition. JSON (struct tags)
// and FSL text (fsl.go) are codecs into and out of that representation.
package fsm

// StateType classifies a state within a definition.
type StateType string

const (
	StateInitial      StateType = "initial"
	StateIntermediate StateType = "intermediate"
	StateFinal        StateType = "final"
)

// TriggerType identifies what causes a transition to fire.
type TriggerType string

const (
	// TriggerMessage fires on an interpreted (or directly delivered) message.
	TriggerMessage TriggerType = "message"
	// TriggerEvent fires on a raw event that reached the matcher uninterpreted.
	TriggerEvent TriggerType = "event"
	// TriggerTimer fires after Duration simulated seconds in the source state.
	TriggerTimer TriggerType = "timer"
	// TriggerCondition fires when Condition evaluates true.
	TriggerCondition TriggerType = "condition"
	// TriggerManual fires only via an explicit external request.
	TriggerManual TriggerType = "manual"
)

// ActionType identifies an entry action kind.
type ActionType string

const (
	// ActionEmit evaluates Formula and pushes a token to Output.
	ActionEmit ActionType = "emit"
	// ActionLog appends a literal Message to the activity log.
	ActionLog ActionType = "log"
)

// InterpretMethod identifies how an interpretation rule matches events.
type InterpretMethod string

const (
	// MethodPattern matches when every Conditions field equals the event field.
	MethodPattern InterpretMethod = "pattern"
	// MethodFormula matches when Condition evaluates true against the event.
	MethodFormula InterpretMethod = "formula"
	// MethodPassthrough matches every event.
	MethodPassthrough InterpretMethod = "passthrough"
)

// State is one explicit state of the machine.
type State struct {
	ID      string   `json:"id" yaml:"id"`
	Name    string   `json:"name,omitempty" yaml:"name,omitempty"`
	Type    StateType `json:"type" yaml:"type"`
	OnEntry []Action `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// Action is executed in declared order when its state is entered.
type Action struct {
	Type ActionType `json:"type" yaml:"type"`

	// Output names the port ActionEmit pushes to. Ports are auto-created on
	// the owning node if not declared.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`

	// Formula is evaluated against input aliases and FSM variables.
	Formula string `json:"formula,omitempty" yaml:"formula,omitempty"`

	// Message is the literal text for ActionLog.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Transition moves the machine from From to To when its trigger matches.
// Among matching candidates the highest Priority wins; ties break by
// declaration order (first declared wins).
type Transition struct {
	ID       string      `json:"id,omitempty" yaml:"id,omitempty"`
	From     string      `json:"from" yaml:"from"`
	To       string      `json:"to" yaml:"to"`
	Trigger  TriggerType `json:"trigger" yaml:"trigger"`
	Priority int         `json:"priority,omitempty" yaml:"priority,omitempty"`

	// Message names the message (TriggerMessage) or event (TriggerEvent)
	// this transition reacts to.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`

	// Duration is the timer length in simulated seconds (TriggerTimer).
	Duration float64 `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Condition is the formula evaluated for TriggerCondition.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// InterpretationRule converts a raw event into a structured message before
// it is offered to the transition matcher. Rules run ordered by Priority
// (highest first, declaration order on ties); the first enabled rule whose
// conditions match wins.
type InterpretationRule struct {
	ID       string          `json:"id,omitempty" yaml:"id,omitempty"`
	Enabled  bool            `json:"enabled" yaml:"enabled"`
	Priority int             `json:"priority,omitempty" yaml:"priority,omitempty"`
	Method   InterpretMethod `json:"method" yaml:"method"`

	// Conditions are field/value equality checks for MethodPattern.
	Conditions map[string]any `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	// Condition is the formula for MethodFormula, evaluated with the raw
	// event bound as `event`.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Message is the name of the produced message. Empty means the event
	// name is carried through.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`

	// Template maps produced message fields to literal text with
	// ${event.field} placeholders interpolated from the event payload.
	Template map[string]string `json:"template,omitempty" yaml:"template,omitempty"`
}

// CircuitBreakerConfig bounds feedback event rate.
type CircuitBreakerConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	Threshold      int     `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	TimeWindow     float64 `json:"timeWindow,omitempty" yaml:"timeWindow,omitempty"`
	CooldownPeriod float64 `json:"cooldownPeriod,omitempty" yaml:"cooldownPeriod,omitempty"`
}

// RoutingConfig gates which feedback destinations are permitted.
type RoutingConfig struct {
	AllowSelfFeedback     bool     `json:"allowSelfFeedback" yaml:"allowSelfFeedback"`
	AllowExternalFeedback bool     `json:"allowExternalFeedback" yaml:"allowExternalFeedback"`
	BlacklistedNodes      []string `json:"blacklistedNodes,omitempty" yaml:"blacklistedNodes,omitempty"`
}

// FeedbackConfig controls re-entrant emissions from a node.
type FeedbackConfig struct {
	Enabled        bool                 `json:"enabled" yaml:"enabled"`
	MaxDepth       int                  `json:"maxDepth,omitempty" yaml:"maxDepth,omitempty"`
	CircuitBreaker CircuitBreakerConfig `json:"circuitBreaker,omitempty" yaml:"circuitBreaker,omitempty"`
	Routing        RoutingConfig        `json:"routing,omitempty" yaml:"routing,omitempty"`
}

// Definition is the canonical in-memory FSM representation.
//
// Both the scenario JSON and the FSL text surface are codecs for this type;
// there is exactly one semantic representation.
type Definition struct {
	InitialState        string               `json:"initialState" yaml:"initialState"`
	States              []State              `json:"states" yaml:"states"`
	Transitions         []Transition         `json:"transitions,omitempty" yaml:"transitions,omitempty"`
	Variables           map[string]any       `json:"variables,omitempty" yaml:"variables,omitempty"`
	InterpretationRules []InterpretationRule `json:"interpretationRules,omitempty" yaml:"interpretationRules,omitempty"`
	Feedback            FeedbackConfig       `json:"feedbackConfig,omitempty" yaml:"feedbackConfig,omitempty"`
}

// StateByID returns the state with the given ID, or nil.
func (d *Definition) StateByID(id string) *State {
	for i := range d.States {
		if d.States[i].ID == id {
			return &d.States[i]
		}
	}
	return nil
}

// Message is an interpreted unit offered to the transition matcher.
type Message struct {
	// Name identifies the message for trigger matching.
	Name string

	// Fields carries the structured payload (template-interpolated for
	// interpreted events, raw token data for direct messages).
	Fields map[string]any

	// FromEvent marks messages produced from raw events. TriggerEvent
	// transitions only match these.
	FromEvent bool
}

// Event is a raw external occurrence before interpretation.
type Event struct {
	Name   string
	Fields map[string]any
}
