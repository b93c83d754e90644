package fsm

import "fmt"

// EvalBool evaluates a condition formula against a binding environment.
// Supplied by the caller so the machine stays decoupled from the evaluator.
type EvalBool func(formulaText string, env map[string]any) (bool, error)

// Machine is the runtime instance of a Definition: current state, variables,
// and time of last state entry. One Machine per FSMProcessNode.
//
// The machine only selects and applies transitions; emitting tokens and
// logging is the owning node runtime's job (it executes the entry actions
// returned by Enter).
type Machine struct {
	def       *Definition
	current   string
	vars      map[string]any
	enteredAt float64
}

// NewMachine creates a machine positioned at the definition's initial state
// with a copy of the declared variables.
func NewMachine(def *Definition, now float64) *Machine {
	vars := make(map[string]any, len(def.Variables))
	for k, v := range def.Variables {
		vars[k] = v
	}
	return &Machine{
		def:       def,
		current:   def.InitialState,
		vars:      vars,
		enteredAt: now,
	}
}

// Current returns the current state ID.
func (m *Machine) Current() string {
	return m.current
}

// Vars returns the live variable map. Callers may read and write; changes
// are visible to subsequent condition evaluations.
func (m *Machine) Vars() map[string]any {
	return m.vars
}

// EnteredAt returns the simulated time the current state was entered.
func (m *Machine) EnteredAt() float64 {
	return m.enteredAt
}

// InFinalState reports whether the current state is terminal.
func (m *Machine) InFinalState() bool {
	s := m.def.StateByID(m.current)
	return s != nil && s.Type == StateFinal
}

// SelectMessage returns the transition that should fire for the message, or
// nil if no candidate matches.
//
// Selection rule: among transitions leaving the current state whose trigger
// matches, the highest numeric priority wins; ties break by declaration
// order (first declared wins).
func (m *Machine) SelectMessage(msg Message) *Transition {
	var best *Transition
	for i := range m.def.Transitions {
		t := &m.def.Transitions[i]
		if t.From != m.current {
			continue
		}
		switch t.Trigger {
		case TriggerMessage:
			if t.Message != msg.Name {
				continue
			}
		case TriggerEvent:
			if !msg.FromEvent || t.Message != msg.Name {
				continue
			}
		default:
			continue
		}
		if best == nil || t.Priority > best.Priority {
			best = t
		}
	}
	return best
}

// SelectTimer returns the timer transition that has elapsed at the given
// simulated time, or nil. When several timers have elapsed the usual
// priority rule applies.
func (m *Machine) SelectTimer(now float64) *Transition {
	var best *Transition
	for i := range m.def.Transitions {
		t := &m.def.Transitions[i]
		if t.From != m.current || t.Trigger != TriggerTimer {
			continue
		}
		if now-m.enteredAt < t.Duration {
			continue
		}
		if best == nil || t.Priority > best.Priority {
			best = t
		}
	}
	return best
}

// SelectCondition evaluates condition transitions leaving the current state
// and returns the winner, or nil. Conditions see the machine variables.
// An evaluation error on one candidate is returned and selection stops; the
// caller logs it and the machine stays put.
func (m *Machine) SelectCondition(eval EvalBool) (*Transition, error) {
	var best *Transition
	for i := range m.def.Transitions {
		t := &m.def.Transitions[i]
		if t.From != m.current || t.Trigger != TriggerCondition {
			continue
		}
		ok, err := eval(t.Condition, m.vars)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if best == nil || t.Priority > best.Priority {
			best = t
		}
	}
	return best, nil
}

// SelectManual returns the manual transition with the given ID if it leaves
// the current state.
func (m *Machine) SelectManual(transitionID string) (*Transition, error) {
	for i := range m.def.Transitions {
		t := &m.def.Transitions[i]
		if t.ID != transitionID {
			continue
		}
		if t.Trigger != TriggerManual {
			return nil, fmt.Errorf("transition %s is not manual", transitionID)
		}
		if t.From != m.current {
			return nil, fmt.Errorf("transition %s does not leave current state %s", transitionID, m.current)
		}
		return t, nil
	}
	return nil, fmt.Errorf("unknown transition %s", transitionID)
}

// Restore positions the machine at a previously observed state. Used when
// a definition is replaced in place and the node's runtime position should
// survive. An unknown state is ignored and the machine stays at its
// current position; variables merge over the definition's declared set.
func (m *Machine) Restore(current string, vars map[string]any, enteredAt float64) {
	if m.def.StateByID(current) != nil {
		m.current = current
		m.enteredAt = enteredAt
	}
	for k, v := range vars {
		m.vars[k] = v
	}
}

// Enter applies a selected transition: the machine moves to t.To and the
// destination state is returned so the caller can run its entry actions in
// declared order.
func (m *Machine) Enter(t *Transition, now float64) *State {
	m.current = t.To
	m.enteredAt = now
	return m.def.StateByID(t.To)
}
