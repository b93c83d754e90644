package sim

import (
	"fmt"

	"github.com/tickgraph/tickgraph/internal/formula"
	"github.com/tickgraph/tickgraph/internal/scenario"
)

// queueRuntime buffers incoming tokens up to capacity and emits one
// aggregated token downstream when its trigger fires. Tokens beyond
// capacity are dropped and logged; they never evict buffered ones.
type queueRuntime struct {
	runtimeBase
	cfg *scenario.QueueConfig

	buffer    []Token
	lastFired float64
}

func (r *queueRuntime) destRefs() []string {
	return []string{r.cfg.DestinationNodeID}
}

func (r *queueRuntime) deliver(e *Engine, source string, tok Token) {
	if len(r.buffer) >= r.cfg.Capacity {
		e.appendLog(&r.runtimeBase, ActionTokenDropped, tok.Payload["value"], len(r.buffer), 0,
			fmt.Sprintf("capacity %d exceeded", r.cfg.Capacity))
		return
	}
	r.buffer = append(r.buffer, tok)
	r.state = "accumulating"
	e.appendLog(&r.runtimeBase, ActionTokenReceived, tok.Payload["value"], len(r.buffer), 0, "from "+source)
}

func (r *queueRuntime) step(e *Engine) {
	if len(r.buffer) == 0 {
		r.state = "idle"
		return
	}

	now := e.clock.Now()
	trig := r.cfg.Aggregation.Trigger

	// Firing is gated by the trigger's declared type: a count trigger
	// never fires on a stale window field, and vice versa.
	var reason string
	switch trig.Type {
	case scenario.TriggerTime:
		if now-r.lastFired < trig.Window {
			return
		}
		reason = fmt.Sprintf("window %gs elapsed", trig.Window)
	case scenario.TriggerCount:
		if len(r.buffer) < trig.Threshold {
			return
		}
		reason = fmt.Sprintf("threshold %d reached", trig.Threshold)
	default:
		return
	}

	r.state = "batch_ready"
	e.appendLog(&r.runtimeBase, ActionBatchReady, len(r.buffer), len(r.buffer), 0, reason)

	consumed := r.buffer
	r.buffer = nil
	r.lastFired = now

	value, err := r.aggregate(e, consumed)
	if err != nil {
		r.lastError = err.Error()
		e.appendLog(&r.runtimeBase, ActionFormulaError, nil, 0, 0, err.Error())
		r.state = "idle"
		return
	}
	r.lastError = ""
	r.state = "emitting"

	payload := map[string]any{"value": value, "count": len(consumed)}
	tok := e.newToken(r.key, payload, &consumed[len(consumed)-1])
	destKey, source, rerr := e.resolve(r.ns, r.id, r.cfg.DestinationNodeID)
	if rerr != nil {
		e.appendLog(&r.runtimeBase, ActionError, value, 0, 0, rerr.Error())
		r.state = "idle"
		return
	}
	e.stage(destKey, source, tok)
	e.appendLog(&r.runtimeBase, ActionEmitting, value, 0, 1, "to "+r.cfg.DestinationNodeID)
	r.state = "idle"
}

func (r *queueRuntime) aggregate(e *Engine, tokens []Token) (float64, error) {
	agg := r.cfg.Aggregation

	if agg.Method == scenario.AggregateFormula {
		payloads := make([]map[string]any, len(tokens))
		for i, t := range tokens {
			payloads[i] = t.Payload
		}
		return e.eval.EvaluateNumber(agg.Formula, formula.AggregateEnv(payloads))
	}

	var sum, minV, maxV float64
	for i, t := range tokens {
		v, _ := t.value()
		sum += v
		if i == 0 || v < minV {
			minV = v
		}
		if i == 0 || v > maxV {
			maxV = v
		}
	}

	switch agg.Method {
	case scenario.AggregateSum:
		return sum, nil
	case scenario.AggregateAverage:
		return sum / float64(len(tokens)), nil
	case scenario.AggregateCount:
		return float64(len(tokens)), nil
	case scenario.AggregateMin:
		return minV, nil
	case scenario.AggregateMax:
		return maxV, nil
	}
	return 0, fmt.Errorf("unknown aggregation method %q", agg.Method)
}

func (r *queueRuntime) snapshot(e *Engine) NodeState {
	st := r.baseState()
	st.InputBuffer = copyTokens(r.buffer)
	st.LastFiredTime = r.lastFired
	return st
}

func (r *queueRuntime) adopt(prev nodeRuntime) {
	p := prev.(*queueRuntime)
	r.buffer = p.buffer
	r.lastFired = p.lastFired
	r.state = p.state
	r.lastError = p.lastError
}
