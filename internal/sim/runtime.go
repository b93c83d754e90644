package sim

import (
	"fmt"
	"strings"

	"github.com/tickgraph/tickgraph/internal/scenario"
)

// nodeRuntime is the per-node-type evaluation contract. One implementation
// per node type is registered at build time; the scheduler invokes them
// uniformly.
type nodeRuntime interface {
	base() *runtimeBase

	// destRefs lists the statically configured destination references,
	// used to derive the evaluation order.
	destRefs() []string

	// step evaluates the node for the current tick. Emissions are staged
	// on the engine and only delivered after every node has stepped.
	step(e *Engine)

	// deliver places a committed token into the node's input buffer.
	// source is the name the token's origin carries in this node's
	// namespace (an upstream node ID, or a module port name).
	deliver(e *Engine, source string, tok Token)

	// snapshot exports the node's current runtime state.
	snapshot(e *Engine) NodeState

	// adopt carries runtime state over from the previous runtime with the
	// same key and type when a scenario edit is applied.
	adopt(prev nodeRuntime)
}

// runtimeBase holds what every runtime needs: its identity, its namespace,
// its display state, and the latest error shown to the UI.
type runtimeBase struct {
	key  string // globally unique: "nodeId" or "module/nodeId"
	id   string // local id within the namespace
	ns   *namespace
	node *scenario.Node

	state     string
	lastError string
}

func (b *runtimeBase) base() *runtimeBase { return b }

func (b *runtimeBase) baseState() NodeState {
	return NodeState{
		NodeID: b.id,
		Type:   b.node.Type,
		State:  b.state,
		Error:  b.lastError,
	}
}

// namespace is one routing scope: the top-level graph or a module interior.
// Destination references always resolve within the emitter's namespace;
// module output ports climb to the parent.
type namespace struct {
	prefix   string // "" at top level, "modId/" inside a module
	nodes    map[string]*scenario.Node
	order    []string // declaration order of local ids
	parent   *namespace
	moduleID string // local id of the module node in the parent namespace
	outPorts map[string]scenario.ModulePort
}

// resolve maps a destination reference to the receiving runtime's key and
// the source name that receiver will see. References take three forms:
// a plain node id, "moduleId.portName" entering a module, or the name of
// one of this namespace's own output ports leaving it.
func (e *Engine) resolve(ns *namespace, emitter, destRef string) (destKey, source string, err error) {
	if port, ok := ns.outPorts[destRef]; ok {
		if port.DestinationNodeID == "" {
			return "", "", fmt.Errorf("module output port %q is unconnected", destRef)
		}
		return e.resolve(ns.parent, ns.moduleID, port.DestinationNodeID)
	}

	if modID, portName, ok := strings.Cut(destRef, "."); ok {
		mod, found := ns.nodes[modID]
		if !found {
			return "", "", fmt.Errorf("destination %q names unknown node %q", destRef, modID)
		}
		mc, isModule := mod.Config.(*scenario.ModuleConfig)
		if !isModule {
			return "", "", fmt.Errorf("destination %q is not a module", modID)
		}
		for _, p := range mc.Inputs {
			if p.Name == portName {
				return ns.prefix + modID + "/" + p.NodeID, portName, nil
			}
		}
		return "", "", fmt.Errorf("module %q has no input port %q", modID, portName)
	}

	if _, found := ns.nodes[destRef]; found {
		return ns.prefix + destRef, emitter, nil
	}
	return "", "", fmt.Errorf("unknown destination %q", destRef)
}

// matchInput finds the input port a delivery binds to. Ports match by the
// upstream node they declare; a port with no upstream matches deliveries
// whose source equals its alias, which is how module ports feed inner nodes.
func matchInput(inputs []scenario.InputPort, source string) (string, bool) {
	for _, in := range inputs {
		if in.NodeID == source {
			return in.Name, true
		}
	}
	for _, in := range inputs {
		if in.NodeID == "" && in.Name == source {
			return in.Name, true
		}
	}
	return "", false
}
