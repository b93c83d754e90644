package sim

import (
	"fmt"

	"github.com/tickgraph/tickgraph/internal/formula"
	"github.com/tickgraph/tickgraph/internal/fsm"
	"github.com/tickgraph/tickgraph/internal/scenario"
)

// fsmRuntime drives one FSM process node. Event inputs pass through the
// definition's interpretation rules before reaching the transition matcher;
// message inputs feed it directly. Entry actions on the destination state
// run in declared order, and every emission passes the feedback guard.
type fsmRuntime struct {
	runtimeBase
	cfg     *scenario.FSMProcessConfig
	machine *fsm.Machine
	guard   *feedbackGuard

	pendingEvents   []inbound
	pendingMessages []inbound

	// latest holds the newest payload per input alias, the binding
	// environment entry actions evaluate against.
	latest map[string]map[string]any

	// outputs is the declared ports plus any auto-created by emit actions
	// naming an undeclared output.
	outputs map[string]scenario.OutputPort
}

type inbound struct {
	alias string
	tok   Token
}

func newFSMRuntime(base runtimeBase, cfg *scenario.FSMProcessConfig) *fsmRuntime {
	outputs := make(map[string]scenario.OutputPort, len(cfg.Outputs))
	for _, out := range cfg.Outputs {
		outputs[out.Name] = out
	}
	r := &fsmRuntime{
		runtimeBase: base,
		cfg:         cfg,
		machine:     fsm.NewMachine(&cfg.FSM, 0),
		guard:       newFeedbackGuard(base.key, cfg.FSM.Feedback),
		latest:      map[string]map[string]any{},
		outputs:     outputs,
	}
	r.state = cfg.FSM.InitialState
	return r
}

func (r *fsmRuntime) destRefs() []string {
	refs := make([]string, 0, len(r.cfg.Outputs))
	for _, out := range r.cfg.Outputs {
		if out.DestinationNodeID != "" {
			refs = append(refs, out.DestinationNodeID)
		}
	}
	return refs
}

func (r *fsmRuntime) deliver(e *Engine, source string, tok Token) {
	if alias, ok := matchInput(r.cfg.EventInputs, source); ok {
		r.pendingEvents = append(r.pendingEvents, inbound{alias: alias, tok: tok})
		r.latest[alias] = tok.Payload
		e.appendLog(&r.runtimeBase, ActionTokenReceived, tok.Payload["value"], r.queued(), 0,
			"event input "+alias+" from "+source)
		return
	}
	if alias, ok := matchInput(r.cfg.MessageInputs, source); ok {
		r.pendingMessages = append(r.pendingMessages, inbound{alias: alias, tok: tok})
		r.latest[alias] = tok.Payload
		e.appendLog(&r.runtimeBase, ActionTokenReceived, tok.Payload["value"], r.queued(), 0,
			"message input "+alias+" from "+source)
		return
	}
	e.appendLog(&r.runtimeBase, ActionTokenDropped, tok.Payload["value"], r.queued(), 0,
		"no input bound to "+source)
}

func (r *fsmRuntime) step(e *Engine) {
	// A final state is terminal: queued input is dropped, not processed.
	if r.machine.InFinalState() {
		for _, in := range append(r.pendingEvents, r.pendingMessages...) {
			e.appendLog(&r.runtimeBase, ActionTokenDropped, in.tok.Payload["value"], 0, 0,
				"machine is in final state "+r.machine.Current())
		}
		r.pendingEvents = nil
		r.pendingMessages = nil
		return
	}

	now := e.clock.Now()
	evalBool := r.evalBool(e)

	if tr := r.machine.SelectTimer(now); tr != nil {
		r.fire(e, tr, nil)
	}

	events := r.pendingEvents
	r.pendingEvents = nil
	for _, in := range events {
		ev := fsm.Event{Name: inboundName(in), Fields: in.tok.Payload}
		msg, errs := r.cfg.FSM.Interpret(ev, evalBool)
		for _, err := range errs {
			r.lastError = err.Error()
			e.appendLog(&r.runtimeBase, ActionFormulaError, nil, r.queued(), 0, err.Error())
		}
		if tr := r.machine.SelectMessage(msg); tr != nil {
			r.fire(e, tr, &in.tok)
		}
	}

	messages := r.pendingMessages
	r.pendingMessages = nil
	for _, in := range messages {
		msg := fsm.Message{Name: inboundName(in), Fields: in.tok.Payload}
		if tr := r.machine.SelectMessage(msg); tr != nil {
			r.fire(e, tr, &in.tok)
		}
	}

	tr, err := r.machine.SelectCondition(evalBool)
	if err != nil {
		r.lastError = err.Error()
		e.appendLog(&r.runtimeBase, ActionFormulaError, nil, r.queued(), 0, err.Error())
	} else if tr != nil {
		r.fire(e, tr, nil)
	}
}

// manual fires a manually triggered transition immediately. Called between
// ticks via Engine.TriggerManual.
func (r *fsmRuntime) manual(e *Engine, transitionID string) error {
	if r.machine.InFinalState() {
		return fmt.Errorf("machine is in final state %s", r.machine.Current())
	}
	tr, err := r.machine.SelectManual(transitionID)
	if err != nil {
		return err
	}
	r.fire(e, tr, nil)
	return nil
}

// fire applies a transition and runs the destination state's entry actions
// in declared order. trigger is the token that caused the transition, nil
// for timer/condition/manual firings.
func (r *fsmRuntime) fire(e *Engine, tr *fsm.Transition, trigger *Token) {
	now := e.clock.Now()
	from := r.machine.Current()
	st := r.machine.Enter(tr, now)
	r.state = tr.To
	e.appendLog(&r.runtimeBase, ActionStateChange, tr.To, r.queued(), 0,
		fmt.Sprintf("%s -> %s (%s)", from, tr.To, tr.Trigger))

	if st == nil {
		return
	}
	clean := true
	for _, action := range st.OnEntry {
		switch action.Type {
		case fsm.ActionEmit:
			if !r.runEmit(e, action, trigger) {
				clean = false
			}
		case fsm.ActionLog:
			e.appendLog(&r.runtimeBase, ActionLog, nil, r.queued(), 0, action.Message)
		}
	}
	if clean {
		r.lastError = ""
	}
}

// runEmit evaluates an emit action's formula and routes the token through
// the feedback guard. Returns false when the emission failed or was
// refused.
func (r *fsmRuntime) runEmit(e *Engine, action fsm.Action, trigger *Token) bool {
	env := formula.BuildEnv(r.bindings(), r.machine.Vars())
	value, err := e.eval.Evaluate(action.Formula, env)
	if err != nil {
		r.lastError = err.Error()
		e.appendLog(&r.runtimeBase, ActionFormulaError, nil, r.queued(), len(r.outputs), action.Formula)
		return false
	}

	port, ok := r.outputs[action.Output]
	if !ok {
		// Emit actions may name outputs the node never declared; the
		// port springs into existence, unconnected.
		port = scenario.OutputPort{Name: action.Output}
		r.outputs[action.Output] = port
	}
	if port.DestinationNodeID == "" {
		e.appendLog(&r.runtimeBase, ActionEmitting, value, r.queued(), len(r.outputs),
			"output "+action.Output+" is unconnected")
		return true
	}

	tok := e.newToken(r.key, map[string]any{"value": value}, trigger)
	destKey, source, rerr := e.resolve(r.ns, r.id, port.DestinationNodeID)
	if rerr != nil {
		e.appendLog(&r.runtimeBase, ActionError, value, r.queued(), len(r.outputs), rerr.Error())
		return false
	}

	now := e.clock.Now()
	if refusal := r.guard.check(destKey, tok, now); refusal != nil {
		r.lastError = refusal.Error()
		e.appendLog(&r.runtimeBase, ActionFeedbackRefused, value, r.queued(), len(r.outputs),
			string(refusal.Reason)+": "+refusal.Detail)
		return false
	}

	e.stage(destKey, source, tok)
	e.appendLog(&r.runtimeBase, ActionEmitting, value, r.queued(), len(r.outputs),
		"output "+action.Output+" to "+port.DestinationNodeID)
	return true
}

// bindings exposes the latest token per alias as formula input views.
func (r *fsmRuntime) bindings() map[string]map[string]any {
	views := make(map[string]map[string]any, len(r.latest))
	for alias, payload := range r.latest {
		views[alias] = formula.TokenBinding(payload)
	}
	return views
}

// evalBool adapts the engine's evaluator for transition conditions and
// interpretation rule formulas.
func (r *fsmRuntime) evalBool(e *Engine) fsm.EvalBool {
	return func(formulaText string, env map[string]any) (bool, error) {
		return e.eval.EvaluateBool(formulaText, env)
	}
}

func (r *fsmRuntime) queued() int {
	return len(r.pendingEvents) + len(r.pendingMessages)
}

// inboundName derives the message/event name from the token payload's
// "name" field, falling back to the input alias.
func inboundName(in inbound) string {
	if name, ok := in.tok.Payload["name"].(string); ok && name != "" {
		return name
	}
	return in.alias
}

func (r *fsmRuntime) snapshot(e *Engine) NodeState {
	st := r.baseState()
	st.CurrentFSMState = r.machine.Current()
	st.FSMVariables = copyVars(r.machine.Vars())

	buffers := map[string][]Token{}
	for _, in := range r.pendingEvents {
		buffers[in.alias] = append(buffers[in.alias], in.tok)
	}
	for _, in := range r.pendingMessages {
		buffers[in.alias] = append(buffers[in.alias], in.tok)
	}
	if len(buffers) > 0 {
		st.InputBuffers = buffers
	}
	return st
}

func (r *fsmRuntime) adopt(prev nodeRuntime) {
	p := prev.(*fsmRuntime)
	// The machine and guard are rebuilt against the new definition; only
	// their runtime position carries over.
	r.machine.Restore(p.machine.Current(), p.machine.Vars(), p.machine.EnteredAt())
	r.guard.events = p.guard.events
	r.guard.open = p.guard.open
	r.guard.openedAt = p.guard.openedAt
	r.pendingEvents = p.pendingEvents
	r.pendingMessages = p.pendingMessages
	r.latest = p.latest
	r.state = p.state
	r.lastError = p.lastError
}
