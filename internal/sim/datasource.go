package sim

import "github.com/tickgraph/tickgraph/internal/scenario"

// dataSourceRuntime emits a generated token to every output each time the
// configured interval elapses. The first emission lands at t=interval, not
// t=0, and subsequent emissions are spaced exactly interval apart.
type dataSourceRuntime struct {
	runtimeBase
	cfg *scenario.DataSourceConfig

	lastEmission float64
}

func (r *dataSourceRuntime) destRefs() []string {
	refs := make([]string, 0, len(r.cfg.Outputs))
	for _, out := range r.cfg.Outputs {
		refs = append(refs, out.DestinationNodeID)
	}
	return refs
}

func (r *dataSourceRuntime) step(e *Engine) {
	now := e.clock.Now()
	if now-r.lastEmission < r.cfg.Interval {
		r.state = "waiting"
		return
	}

	r.state = "generating"
	value := r.generate(e)
	payload := map[string]any{"value": value}

	r.state = "emitting"
	clean := true
	for _, out := range r.cfg.Outputs {
		tok := e.newToken(r.key, payload, nil)
		destKey, source, err := e.resolve(r.ns, r.id, out.DestinationNodeID)
		if err != nil {
			r.lastError = err.Error()
			clean = false
			e.appendLog(&r.runtimeBase, ActionError, value, 0, len(r.cfg.Outputs), err.Error())
			continue
		}
		e.stage(destKey, source, tok)
		e.appendLog(&r.runtimeBase, ActionEmitting, value, 0, len(r.cfg.Outputs), "to "+out.DestinationNodeID)
	}
	if clean {
		r.lastError = ""
	}

	// Advance by whole intervals so emissions never drift, even when the
	// tick step does not divide the interval.
	for r.lastEmission+r.cfg.Interval <= now {
		r.lastEmission += r.cfg.Interval
	}
	r.state = "idle"
}

func (r *dataSourceRuntime) generate(e *Engine) float64 {
	gen := r.cfg.Generation
	switch gen.Type {
	case scenario.GenerateConstant:
		return gen.Value
	default:
		return gen.ValueMin + e.rng.Float64()*(gen.ValueMax-gen.ValueMin)
	}
}

func (r *dataSourceRuntime) deliver(e *Engine, source string, tok Token) {
	// Data sources have no inputs; a routed token here is a wiring bug.
	e.appendLog(&r.runtimeBase, ActionTokenDropped, tok.Payload["value"], 0, 0,
		"data source accepts no inputs (from "+source+")")
}

func (r *dataSourceRuntime) snapshot(e *Engine) NodeState {
	st := r.baseState()
	st.LastEmissionTime = r.lastEmission
	return st
}

func (r *dataSourceRuntime) adopt(prev nodeRuntime) {
	p := prev.(*dataSourceRuntime)
	r.lastEmission = p.lastEmission
	r.state = p.state
	r.lastError = p.lastError
}
