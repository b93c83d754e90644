package sim

import "github.com/tickgraph/tickgraph/internal/scenario"

// moduleRuntime represents a module node. The sub-graph's nodes are
// flattened into the engine and scheduled like everything else; this
// runtime only aggregates their states for inspection. Routing into and
// out of the sub-graph happens entirely in resolve.
type moduleRuntime struct {
	runtimeBase
	cfg   *scenario.ModuleConfig
	inner *namespace
}

func (r *moduleRuntime) destRefs() []string { return nil }

func (r *moduleRuntime) step(e *Engine) {}

func (r *moduleRuntime) deliver(e *Engine, source string, tok Token) {
	// Deliveries address inner nodes directly via input ports; a token
	// landing on the module itself means a stale route.
	e.appendLog(&r.runtimeBase, ActionTokenDropped, tok.Payload["value"], 0, 0,
		"module is not directly routable (from "+source+")")
}

func (r *moduleRuntime) snapshot(e *Engine) NodeState {
	st := r.baseState()
	st.SubGraphStates = make(map[string]NodeState, len(r.inner.order))
	for _, id := range r.inner.order {
		if rt, ok := e.runtimes[r.inner.prefix+id]; ok {
			st.SubGraphStates[id] = rt.snapshot(e)
		}
	}
	return st
}

func (r *moduleRuntime) adopt(prev nodeRuntime) {
	p := prev.(*moduleRuntime)
	r.state = p.state
	r.lastError = p.lastError
}

// groupRuntime is purely organizational: it lists the top-level nodes
// carrying its tag and never touches a token.
type groupRuntime struct {
	runtimeBase
	cfg *scenario.GroupConfig
}

func (r *groupRuntime) destRefs() []string { return nil }

func (r *groupRuntime) step(e *Engine) {}

func (r *groupRuntime) deliver(e *Engine, source string, tok Token) {
	e.appendLog(&r.runtimeBase, ActionTokenDropped, tok.Payload["value"], 0, 0,
		"groups do not receive tokens (from "+source+")")
}

func (r *groupRuntime) snapshot(e *Engine) NodeState {
	st := r.baseState()
	for _, id := range r.ns.order {
		n := r.ns.nodes[id]
		if n.ID == r.id {
			continue
		}
		for _, tag := range n.Tags {
			if tag == r.cfg.Tag {
				st.MemberNodes = append(st.MemberNodes, id)
				break
			}
		}
	}
	return st
}

func (r *groupRuntime) adopt(prev nodeRuntime) {
	p := prev.(*groupRuntime)
	r.state = p.state
	r.lastError = p.lastError
}
