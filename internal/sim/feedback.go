package sim

import (
	"fmt"

	"github.com/tickgraph/tickgraph/internal/fsm"
)

// RefusalReason names why a feedback emission was blocked.
type RefusalReason string

const (
	RefusalDisabled    RefusalReason = "feedback_disabled"
	RefusalDepth       RefusalReason = "max_depth_exceeded"
	RefusalBreakerOpen RefusalReason = "circuit_breaker_open"
	RefusalPolicy      RefusalReason = "routing_policy"
)

// FeedbackRefusal is a blocked feedback emission. It never propagates as a
// hard error: the emission is dropped and the refusal is logged against the
// emitting node.
type FeedbackRefusal struct {
	NodeID      string
	Destination string
	Reason      RefusalReason
	Detail      string
}

func (e *FeedbackRefusal) Error() string {
	return fmt.Sprintf("feedback refused from %s to %s: %s (%s)", e.NodeID, e.Destination, e.Reason, e.Detail)
}

// feedbackGuard enforces one node's feedback limits: recursion depth, then
// the circuit breaker, then routing policy. The first failing check names
// the refusal reason; an emission that is not feedback passes untouched.
type feedbackGuard struct {
	nodeID string
	cfg    fsm.FeedbackConfig

	events   []float64 // simulated times of allowed feedback events
	open     bool
	openedAt float64
}

func newFeedbackGuard(nodeID string, cfg fsm.FeedbackConfig) *feedbackGuard {
	return &feedbackGuard{nodeID: nodeID, cfg: cfg}
}

// check inspects an outgoing token whose path already ends with the
// emitting node. A nil result means deliver; a non-nil result means drop
// and log.
func (g *feedbackGuard) check(dest string, tok Token, now float64) *FeedbackRefusal {
	self := dest == g.nodeID
	// Feedback means the destination is the emitter itself or an ancestor
	// already on the token's causal path. Anything else is plain routing.
	if !self && tok.depthOf(dest) == 0 {
		return nil
	}

	refuse := func(reason RefusalReason, detail string) *FeedbackRefusal {
		return &FeedbackRefusal{NodeID: g.nodeID, Destination: dest, Reason: reason, Detail: detail}
	}

	if !g.cfg.Enabled {
		return refuse(RefusalDisabled, "feedback is not enabled for this node")
	}

	if g.cfg.MaxDepth > 0 {
		if depth := tok.depthOf(g.nodeID); depth > g.cfg.MaxDepth {
			return refuse(RefusalDepth, fmt.Sprintf("depth %d exceeds maxDepth %d", depth, g.cfg.MaxDepth))
		}
	}

	if g.cfg.CircuitBreaker.Enabled {
		if r := g.checkBreaker(now, refuse); r != nil {
			return r
		}
	}

	for _, blocked := range g.cfg.Routing.BlacklistedNodes {
		if dest == blocked {
			return refuse(RefusalPolicy, fmt.Sprintf("destination %s is blacklisted", dest))
		}
	}
	if self && !g.cfg.Routing.AllowSelfFeedback {
		return refuse(RefusalPolicy, "self-feedback is not allowed")
	}
	if !self && !g.cfg.Routing.AllowExternalFeedback {
		return refuse(RefusalPolicy, "external feedback is not allowed")
	}

	g.events = append(g.events, now)
	return nil
}

// checkBreaker applies the rolling-window count. Crossing the threshold
// opens the breaker at the offending event's time; it stays open until
// cooldownPeriod elapses, then resets closed with a cleared window.
func (g *feedbackGuard) checkBreaker(now float64, refuse func(RefusalReason, string) *FeedbackRefusal) *FeedbackRefusal {
	cb := g.cfg.CircuitBreaker

	if g.open {
		if now-g.openedAt < cb.CooldownPeriod {
			return refuse(RefusalBreakerOpen,
				fmt.Sprintf("open since t=%g, cooldown %gs", g.openedAt, cb.CooldownPeriod))
		}
		g.open = false
		g.events = nil
	}

	cutoff := now - cb.TimeWindow
	kept := g.events[:0]
	for _, t := range g.events {
		if t > cutoff {
			kept = append(kept, t)
		}
	}
	g.events = kept

	if len(g.events)+1 > cb.Threshold {
		g.open = true
		g.openedAt = now
		return refuse(RefusalBreakerOpen,
			fmt.Sprintf("%d feedback events within %gs exceeds threshold %d", len(g.events)+1, cb.TimeWindow, cb.Threshold))
	}
	return nil
}
