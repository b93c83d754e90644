package fsm

import "fmt"

// Validate checks a definition for structural problems. All findings are
// returned; an empty slice means the definition is usable.
//
// Checked invariants:
//   - at least one state; state IDs unique and non-empty
//   - initialState names an existing state (defaulting to the first state
//     typed initial, then the first state, is the codec's job, not ours)
//   - transitions reference existing states and carry trigger-appropriate
//     fields (message name, positive timer duration, non-empty condition)
//   - entry actions are well formed (emit needs output+formula, log needs
//     a message)
//   - interpretation rule methods are from the supported set
//   - feedback limits are sane when enabled
func (d *Definition) Validate() []error {
	var errs []error

	if len(d.States) == 0 {
		return append(errs, fmt.Errorf("fsm has no states"))
	}

	seen := make(map[string]bool, len(d.States))
	for i, s := range d.States {
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("states[%d]: empty id", i))
			continue
		}
		if seen[s.ID] {
			errs = append(errs, fmt.Errorf("states[%d]: duplicate state id %q", i, s.ID))
		}
		seen[s.ID] = true

		switch s.Type {
		case StateInitial, StateIntermediate, StateFinal:
		default:
			errs = append(errs, fmt.Errorf("state %s: unknown type %q", s.ID, s.Type))
		}

		for j, a := range s.OnEntry {
			switch a.Type {
			case ActionEmit:
				if a.Output == "" {
					errs = append(errs, fmt.Errorf("state %s: actions[%d]: emit without output", s.ID, j))
				}
				if a.Formula == "" {
					errs = append(errs, fmt.Errorf("state %s: actions[%d]: emit without formula", s.ID, j))
				}
			case ActionLog:
				if a.Message == "" {
					errs = append(errs, fmt.Errorf("state %s: actions[%d]: log without message", s.ID, j))
				}
			default:
				errs = append(errs, fmt.Errorf("state %s: actions[%d]: unknown action type %q", s.ID, j, a.Type))
			}
		}
	}

	if d.InitialState == "" {
		errs = append(errs, fmt.Errorf("initialState is empty"))
	} else if !seen[d.InitialState] {
		errs = append(errs, fmt.Errorf("initialState %q names no state", d.InitialState))
	}

	for i, t := range d.Transitions {
		if !seen[t.From] {
			errs = append(errs, fmt.Errorf("transitions[%d]: from state %q does not exist", i, t.From))
		}
		if !seen[t.To] {
			errs = append(errs, fmt.Errorf("transitions[%d]: to state %q does not exist", i, t.To))
		}
		switch t.Trigger {
		case TriggerMessage, TriggerEvent:
			if t.Message == "" {
				errs = append(errs, fmt.Errorf("transitions[%d]: %s trigger without message name", i, t.Trigger))
			}
		case TriggerTimer:
			if t.Duration <= 0 {
				errs = append(errs, fmt.Errorf("transitions[%d]: timer trigger requires positive duration", i))
			}
		case TriggerCondition:
			if t.Condition == "" {
				errs = append(errs, fmt.Errorf("transitions[%d]: condition trigger without condition", i))
			}
		case TriggerManual:
			if t.ID == "" {
				errs = append(errs, fmt.Errorf("transitions[%d]: manual trigger requires an id", i))
			}
		default:
			errs = append(errs, fmt.Errorf("transitions[%d]: unknown trigger %q", i, t.Trigger))
		}
	}

	for i, r := range d.InterpretationRules {
		switch r.Method {
		case MethodPattern, MethodFormula, MethodPassthrough:
		default:
			errs = append(errs, fmt.Errorf("interpretationRules[%d]: unsupported method %q", i, r.Method))
		}
		if r.Method == MethodFormula && r.Condition == "" {
			errs = append(errs, fmt.Errorf("interpretationRules[%d]: formula method without condition", i))
		}
	}

	if d.Feedback.Enabled {
		if d.Feedback.MaxDepth <= 0 {
			errs = append(errs, fmt.Errorf("feedbackConfig: maxDepth must be positive when feedback is enabled"))
		}
		cb := d.Feedback.CircuitBreaker
		if cb.Enabled {
			if cb.Threshold <= 0 {
				errs = append(errs, fmt.Errorf("feedbackConfig.circuitBreaker: threshold must be positive"))
			}
			if cb.TimeWindow <= 0 {
				errs = append(errs, fmt.Errorf("feedbackConfig.circuitBreaker: timeWindow must be positive"))
			}
			if cb.CooldownPeriod <= 0 {
				errs = append(errs, fmt.Errorf("feedbackConfig.circuitBreaker: cooldownPeriod must be positive"))
			}
		}
	}

	return errs
}
