package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/tickgraph/tickgraph/internal/formula"
	"github.com/tickgraph/tickgraph/internal/scenario"
)

// Options configures an engine run.
type Options struct {
	// Step is simulated seconds per tick. Zero means 1.0.
	Step float64

	// Seed drives DataSource value generation. The same scenario, seed,
	// and ID generator reproduce the run exactly.
	Seed int64

	// IDs mints token identifiers. Nil selects UUIDv7.
	IDs TokenIDGenerator

	Logger *slog.Logger
}

// delivery is one staged emission, committed after every node has stepped
// so tokens become visible only from the next tick.
type delivery struct {
	destKey string
	source  string
	token   Token
}

// Engine executes a validated scenario tick by tick. Single-writer: one
// goroutine drives Tick/Apply/TriggerManual; snapshots may be read from
// anywhere between calls.
type Engine struct {
	mu     sync.Mutex
	scn    *scenario.Scenario
	clock  *Clock
	log    *ActivityLog
	eval   *formula.Evaluator
	ids    TokenIDGenerator
	rng    *rand.Rand
	logger *slog.Logger

	root     *namespace
	runtimes map[string]nodeRuntime
	flat     []string // every runtime key, declaration order, modules flattened
	order    []string // evaluation order for a tick
	pending  []delivery
}

// New builds an engine for the scenario. The scenario is validated and
// cloned; the caller's copy is never mutated.
func New(scn *scenario.Scenario, opts Options) (*Engine, error) {
	if errs := scenario.Validate(scn); len(errs) > 0 {
		return nil, errs[0]
	}
	cloned, err := scn.Clone()
	if err != nil {
		return nil, err
	}

	step := opts.Step
	if step <= 0 {
		step = 1.0
	}
	ids := opts.IDs
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		clock:  NewClock(step),
		log:    NewActivityLog(),
		eval:   formula.NewEvaluator(),
		ids:    ids,
		rng:    rand.New(rand.NewSource(opts.Seed)),
		logger: logger,
	}
	e.rebuild(cloned)
	return e, nil
}

// rebuild replaces the runtime graph, adopting state from runtimes whose
// key and type survive.
func (e *Engine) rebuild(scn *scenario.Scenario) {
	old := e.runtimes

	e.scn = scn
	e.runtimes = make(map[string]nodeRuntime)
	e.flat = nil
	e.root = e.buildNamespace("", scn.Nodes, nil, "")
	e.order = e.topoOrder()

	for key, rt := range e.runtimes {
		prev, ok := old[key]
		if ok && prev.base().node.Type == rt.base().node.Type {
			rt.adopt(prev)
		}
	}
}

func (e *Engine) buildNamespace(prefix string, nodes []scenario.Node, parent *namespace, moduleID string) *namespace {
	ns := &namespace{
		prefix:   prefix,
		nodes:    make(map[string]*scenario.Node, len(nodes)),
		parent:   parent,
		moduleID: moduleID,
		outPorts: map[string]scenario.ModulePort{},
	}
	for i := range nodes {
		n := &nodes[i]
		ns.nodes[n.ID] = n
		ns.order = append(ns.order, n.ID)
	}
	for i := range nodes {
		n := &nodes[i]
		key := prefix + n.ID
		rt := e.newRuntime(key, n, ns)
		e.runtimes[key] = rt
		e.flat = append(e.flat, key)
	}
	return ns
}

func (e *Engine) newRuntime(key string, n *scenario.Node, ns *namespace) nodeRuntime {
	base := runtimeBase{key: key, id: n.ID, ns: ns, node: n, state: "idle"}

	switch cfg := n.Config.(type) {
	case *scenario.DataSourceConfig:
		return &dataSourceRuntime{runtimeBase: base, cfg: cfg}
	case *scenario.QueueConfig:
		return &queueRuntime{runtimeBase: base, cfg: cfg}
	case *scenario.ProcessConfig:
		return &processRuntime{runtimeBase: base, cfg: cfg, buffers: map[string][]Token{}}
	case *scenario.FSMProcessConfig:
		return newFSMRuntime(base, cfg)
	case *scenario.SinkConfig:
		return &sinkRuntime{runtimeBase: base}
	case *scenario.ModuleConfig:
		inner := e.buildNamespace(key+"/", cfg.Nodes, ns, n.ID)
		for _, port := range cfg.Outputs {
			inner.outPorts[port.Name] = port
		}
		return &moduleRuntime{runtimeBase: base, cfg: cfg, inner: inner}
	case *scenario.GroupConfig:
		return &groupRuntime{runtimeBase: base, cfg: cfg}
	default:
		// Unreachable after validation.
		panic(fmt.Sprintf("no runtime for node type %s", n.Type))
	}
}

// topoOrder computes the tick evaluation order: sources before consumers,
// declaration order breaking ties, cyclic remainders appended in
// declaration order.
func (e *Engine) topoOrder() []string {
	succ := make(map[string][]string)
	indeg := make(map[string]int, len(e.flat))
	for _, key := range e.flat {
		rt := e.runtimes[key]
		b := rt.base()
		for _, ref := range rt.destRefs() {
			destKey, _, err := e.resolve(b.ns, b.id, ref)
			if err != nil || destKey == key {
				continue
			}
			succ[key] = append(succ[key], destKey)
			indeg[destKey]++
		}
	}

	order := make([]string, 0, len(e.flat))
	done := make(map[string]bool, len(e.flat))
	for len(order) < len(e.flat) {
		progressed := false
		for _, key := range e.flat {
			if done[key] || indeg[key] > 0 {
				continue
			}
			done[key] = true
			order = append(order, key)
			for _, s := range succ[key] {
				indeg[s]--
			}
			progressed = true
		}
		if !progressed {
			for _, key := range e.flat {
				if !done[key] {
					done[key] = true
					order = append(order, key)
				}
			}
		}
	}
	return order
}

// Tick advances the clock one step, evaluates every node, then commits the
// staged emissions. Tokens emitted this tick reach their destinations'
// buffers only after all nodes have run.
func (e *Engine) Tick() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	tick := e.clock.Advance()
	e.logger.Debug("tick", slog.Int64("tick", tick), slog.Float64("time", e.clock.Now()))

	for _, key := range e.order {
		e.stepNode(e.runtimes[key])
	}

	staged := e.pending
	e.pending = nil
	for _, d := range staged {
		if rt, ok := e.runtimes[d.destKey]; ok {
			rt.deliver(e, d.source, d.token)
		}
	}

	return e.snapshotLocked()
}

// stepNode isolates one node's evaluation: a panicking node is logged and
// the tick continues for everyone else.
func (e *Engine) stepNode(rt nodeRuntime) {
	defer func() {
		if r := recover(); r != nil {
			b := rt.base()
			b.lastError = fmt.Sprint(r)
			e.appendLog(b, ActionError, nil, 0, 0, fmt.Sprint(r))
			e.logger.Error("node evaluation panicked",
				slog.String("node", b.key), slog.Any("panic", r))
		}
	}()
	rt.step(e)
}

// Run executes n ticks and returns the final snapshot.
func (e *Engine) Run(ctx context.Context, n int) (Snapshot, error) {
	snap := e.Snapshot()
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return snap, err
		}
		snap = e.Tick()
	}
	return snap, nil
}

// Snapshot exports the current state without advancing time.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	states := make(map[string]NodeState, len(e.root.order))
	for _, id := range e.root.order {
		states[id] = e.runtimes[id].snapshot(e)
	}
	return Snapshot{
		Tick:        e.clock.Tick(),
		CurrentTime: e.clock.Now(),
		NodeStates:  states,
		ActivityLog: e.log.PerNode(),
	}
}

// Apply replaces the scenario between ticks. Nodes whose id and type
// survive keep their runtime state; removed nodes are discarded; the edit
// is rejected wholesale on any validation error, leaving the running
// scenario untouched.
func (e *Engine) Apply(next *scenario.Scenario) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if errs := scenario.ValidateApply(e.scn, next); len(errs) > 0 {
		return errs[0]
	}
	cloned, err := next.Clone()
	if err != nil {
		return err
	}
	e.rebuild(cloned)
	return nil
}

// ApplyJSON loads, validates, and applies a scenario document.
func (e *Engine) ApplyJSON(data []byte) error {
	next, err := scenario.Load(data)
	if err != nil {
		return err
	}
	return e.Apply(next)
}

// TriggerManual fires a manual transition on an FSM node immediately,
// outside the tick loop. nodeKey addresses flattened nodes the same way
// the log does ("fsm1", "mod/fsm2").
func (e *Engine) TriggerManual(nodeKey, transitionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rt, ok := e.runtimes[nodeKey]
	if !ok {
		return fmt.Errorf("no such node %q", nodeKey)
	}
	f, ok := rt.(*fsmRuntime)
	if !ok {
		return fmt.Errorf("node %q is a %s, not an FSM node", nodeKey, rt.base().node.Type)
	}
	return f.manual(e, transitionID)
}

// Clock returns the simulation clock.
func (e *Engine) Clock() *Clock { return e.clock }

// Log returns the activity log.
func (e *Engine) Log() *ActivityLog { return e.log }

// Scenario returns a copy of the running scenario.
func (e *Engine) Scenario() (*scenario.Scenario, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scn.Clone()
}

// stage queues a resolved emission for delivery at tick commit.
func (e *Engine) stage(destKey, source string, tok Token) {
	e.pending = append(e.pending, delivery{destKey: destKey, source: source, token: tok})
}

// appendLog writes one activity entry stamped with the current tick.
func (e *Engine) appendLog(b *runtimeBase, act Action, value any, bufSize, outBufSize int, details string) {
	e.log.Append(Entry{
		Tick:             e.clock.Tick(),
		Timestamp:        e.clock.Now(),
		NodeID:           b.key,
		Action:           act,
		Value:            value,
		State:            b.state,
		BufferSize:       bufSize,
		OutputBufferSize: outBufSize,
		Details:          details,
	})
}

// newToken mints a token emitted by node key at the current time, derived
// from parent (nil for freshly generated tokens).
func (e *Engine) newToken(key string, payload map[string]any, parent *Token) Token {
	tok := Token{
		ID:        e.ids.Generate(),
		Origin:    key,
		EmittedAt: e.clock.Now(),
		Payload:   payload,
	}
	if parent != nil {
		tok.Path = parent.childPath(key)
	} else {
		tok.Path = []string{key}
	}
	return tok
}
