package sim

import (
	"github.com/tickgraph/tickgraph/internal/formula"
	"github.com/tickgraph/tickgraph/internal/scenario"
)

// processRuntime keeps one FIFO buffer per declared input alias and fires
// when every required input holds a token. Each output's formula is
// evaluated independently: one failing formula aborts only that output's
// emission, the siblings still attempt theirs in declaration order.
type processRuntime struct {
	runtimeBase
	cfg *scenario.ProcessConfig

	buffers   map[string][]Token
	lastFired float64
}

func (r *processRuntime) destRefs() []string {
	refs := make([]string, 0, len(r.cfg.Outputs))
	for _, out := range r.cfg.Outputs {
		refs = append(refs, out.DestinationNodeID)
	}
	return refs
}

func (r *processRuntime) deliver(e *Engine, source string, tok Token) {
	alias, ok := matchInput(r.cfg.Inputs, source)
	if !ok {
		e.appendLog(&r.runtimeBase, ActionTokenDropped, tok.Payload["value"], r.buffered(), 0,
			"no input bound to "+source)
		return
	}
	r.buffers[alias] = append(r.buffers[alias], tok)
	r.state = "collecting"
	e.appendLog(&r.runtimeBase, ActionTokenReceived, tok.Payload["value"], r.buffered(), 0,
		"input "+alias+" from "+source)
}

func (r *processRuntime) step(e *Engine) {
	if !r.ready() {
		if r.buffered() == 0 {
			r.state = "idle"
		}
		return
	}

	now := e.clock.Now()
	r.state = "calculating"

	// Consume one token per non-empty input; the first consumed token
	// carries the causal path forward.
	inputs := make(map[string]map[string]any, len(r.cfg.Inputs))
	var parent *Token
	for _, in := range r.cfg.Inputs {
		buf := r.buffers[in.Name]
		if len(buf) == 0 {
			continue
		}
		tok := buf[0]
		r.buffers[in.Name] = buf[1:]
		inputs[in.Name] = formula.TokenBinding(tok.Payload)
		if parent == nil {
			parent = &tok
		}
	}

	env := formula.BuildEnv(inputs, nil)
	r.lastError = ""
	r.state = "emitting"
	for _, out := range r.cfg.Outputs {
		value, err := e.eval.Evaluate(out.Formula, env)
		if err != nil {
			r.lastError = err.Error()
			e.appendLog(&r.runtimeBase, ActionFormulaError, nil, r.buffered(), len(r.cfg.Outputs), out.Formula)
			continue
		}

		tok := e.newToken(r.key, map[string]any{"value": value}, parent)
		destKey, source, rerr := e.resolve(r.ns, r.id, out.DestinationNodeID)
		if rerr != nil {
			e.appendLog(&r.runtimeBase, ActionError, value, r.buffered(), len(r.cfg.Outputs), rerr.Error())
			continue
		}
		e.stage(destKey, source, tok)
		e.appendLog(&r.runtimeBase, ActionEmitting, value, r.buffered(), len(r.cfg.Outputs), "to "+out.DestinationNodeID)
	}

	r.lastFired = now
	r.state = "idle"
}

// ready reports whether every required input has at least one buffered
// token and at least one token exists at all.
func (r *processRuntime) ready() bool {
	if r.buffered() == 0 {
		return false
	}
	for _, in := range r.cfg.Inputs {
		if in.Required && len(r.buffers[in.Name]) == 0 {
			return false
		}
	}
	return true
}

func (r *processRuntime) buffered() int {
	n := 0
	for _, buf := range r.buffers {
		n += len(buf)
	}
	return n
}

func (r *processRuntime) snapshot(e *Engine) NodeState {
	st := r.baseState()
	st.LastFiredTime = r.lastFired
	if len(r.buffers) > 0 {
		st.InputBuffers = make(map[string][]Token, len(r.buffers))
		for alias, buf := range r.buffers {
			if len(buf) > 0 {
				st.InputBuffers[alias] = copyTokens(buf)
			}
		}
		if len(st.InputBuffers) == 0 {
			st.InputBuffers = nil
		}
	}
	return st
}

func (r *processRuntime) adopt(prev nodeRuntime) {
	p := prev.(*processRuntime)
	r.buffers = p.buffers
	r.lastFired = p.lastFired
	r.state = p.state
	r.lastError = p.lastError
}
