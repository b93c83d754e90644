package sim

// sinkRuntime is the terminal consumer: every arriving token bumps the
// consumed count and is logged, nothing is emitted.
type sinkRuntime struct {
	runtimeBase
	consumed int
}

func (r *sinkRuntime) destRefs() []string { return nil }

func (r *sinkRuntime) step(e *Engine) {}

func (r *sinkRuntime) deliver(e *Engine, source string, tok Token) {
	r.consumed++
	r.state = "consuming"
	e.appendLog(&r.runtimeBase, ActionConsuming, tok.Payload["value"], 0, 0,
		"from "+source)
}

func (r *sinkRuntime) snapshot(e *Engine) NodeState {
	st := r.baseState()
	st.ConsumedTokenCount = r.consumed
	return st
}

func (r *sinkRuntime) adopt(prev nodeRuntime) {
	p := prev.(*sinkRuntime)
	r.consumed = p.consumed
	r.state = p.state
	r.lastError = p.lastError
}
