package scenario

import (
	"fmt"
	"strings"
)

// Validate checks a decoded scenario structurally: unique IDs, resolvable
// references, and per-type config rules. It returns every problem found, not
// just the first, so an editor can surface all of them at once.
func Validate(s *Scenario) []*ConfigError {
	v := &validator{}

	if s.Version != CurrentVersion {
		v.errf(ErrCodeVersion, "version", "unsupported scenario version %d (want %d)", s.Version, CurrentVersion)
	}
	v.validateGraph("nodes", s.Nodes, nil)
	return v.errs
}

// ValidateApply checks a scenario replacing a running one: nodes whose ID
// survives must keep their type, since runtime state is typed per node.
func ValidateApply(old, next *Scenario) []*ConfigError {
	errs := Validate(next)
	for i := range next.Nodes {
		n := &next.Nodes[i]
		prev := old.NodeByID(n.ID)
		if prev != nil && prev.Type != n.Type {
			errs = append(errs, configErrf(ErrCodeTypeChange, "nodes["+n.ID+"]",
				"node type changed from %s to %s; remove and re-add instead", prev.Type, n.Type))
		}
	}
	return errs
}

type validator struct {
	errs []*ConfigError
}

func (v *validator) errf(code, path, format string, args ...any) {
	v.errs = append(v.errs, configErrf(code, path, format, args...))
}

// validateGraph validates one namespace of nodes: the top level, or the
// interior of a module. Module interiors never see the parent's nodes, but
// they may route to the module's declared output port names (exitPorts).
func (v *validator) validateGraph(path string, nodes []Node, exitPorts map[string]bool) {
	byID := make(map[string]*Node, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		np := fmt.Sprintf("%s[%s]", path, n.ID)
		if n.ID == "" {
			v.errf(ErrCodeBadConfig, fmt.Sprintf("%s[%d]", path, i), "nodeId is required")
			continue
		}
		if strings.Contains(n.ID, "/") || strings.Contains(n.ID, ".") {
			v.errf(ErrCodeBadConfig, np, "nodeId must not contain '/' or '.'")
		}
		if _, dup := byID[n.ID]; dup {
			v.errf(ErrCodeDuplicate, np, "duplicate nodeId %q", n.ID)
			continue
		}
		byID[n.ID] = n
	}

	for i := range nodes {
		n := &nodes[i]
		if n.ID == "" {
			continue
		}
		v.validateNode(fmt.Sprintf("%s[%s]", path, n.ID), n, byID, exitPorts)
	}
}

func (v *validator) validateNode(path string, n *Node, graph map[string]*Node, exitPorts map[string]bool) {
	if n.Config == nil {
		v.errf(ErrCodeBadConfig, path, "missing configuration for type %s", n.Type)
		return
	}

	switch cfg := n.Config.(type) {
	case *DataSourceConfig:
		if cfg.Interval <= 0 {
			v.errf(ErrCodeBadConfig, path+".interval", "interval must be positive, got %v", cfg.Interval)
		}
		switch cfg.Generation.Type {
		case GenerateRandom:
			if cfg.Generation.ValueMin > cfg.Generation.ValueMax {
				v.errf(ErrCodeBadConfig, path+".generation", "valueMin %v exceeds valueMax %v",
					cfg.Generation.ValueMin, cfg.Generation.ValueMax)
			}
		case GenerateConstant:
		default:
			v.errf(ErrCodeBadConfig, path+".generation.type", "unknown generation type %q", cfg.Generation.Type)
		}
		if len(cfg.Outputs) == 0 {
			v.errf(ErrCodeBadConfig, path+".outputs", "at least one output is required")
		}
		for i, out := range cfg.Outputs {
			v.validateDestination(fmt.Sprintf("%s.outputs[%d]", path, i), out.DestinationNodeID, graph, exitPorts)
		}

	case *QueueConfig:
		if cfg.Capacity <= 0 {
			v.errf(ErrCodeBadConfig, path+".capacity", "capacity must be positive, got %d", cfg.Capacity)
		}
		v.validateAggregation(path+".aggregation", cfg.Aggregation)
		v.validateDestination(path+".destinationNodeId", cfg.DestinationNodeID, graph, exitPorts)

	case *ProcessConfig:
		if len(cfg.Inputs) == 0 {
			v.errf(ErrCodeBadConfig, path+".inputs", "at least one input is required")
		}
		v.validateInputs(path+".inputs", cfg.Inputs, graph)
		if len(cfg.Outputs) == 0 {
			v.errf(ErrCodeBadConfig, path+".outputs", "at least one output is required")
		}
		for i, out := range cfg.Outputs {
			op := fmt.Sprintf("%s.outputs[%d]", path, i)
			if out.Formula == "" {
				v.errf(ErrCodeBadConfig, op+".formula", "output formula is required")
			}
			v.validateDestination(op, out.DestinationNodeID, graph, exitPorts)
		}

	case *FSMProcessConfig:
		for _, err := range cfg.FSM.Validate() {
			v.errf(ErrCodeBadConfig, path+".fsm", "%s", err.Error())
		}
		v.validateInputs(path+".eventInputs", cfg.EventInputs, graph)
		v.validateInputs(path+".messageInputs", cfg.MessageInputs, graph)
		// Emit actions may name outputs the node never declared; the port is
		// auto-created at runtime, unconnected. Only declared ports route.
		for i, out := range cfg.Outputs {
			v.validateDestination(fmt.Sprintf("%s.outputs[%d]", path, i), out.DestinationNodeID, graph, exitPorts)
		}

	case *SinkConfig:
		// terminal, nothing to check

	case *ModuleConfig:
		if len(cfg.Nodes) == 0 {
			v.errf(ErrCodeBadConfig, path+".nodes", "module sub-graph is empty")
		}
		exits := make(map[string]bool, len(cfg.Outputs))
		for _, port := range cfg.Outputs {
			exits[port.Name] = true
		}
		v.validateGraph(path+".nodes", cfg.Nodes, exits)

		inner := make(map[string]*Node, len(cfg.Nodes))
		for i := range cfg.Nodes {
			inner[cfg.Nodes[i].ID] = &cfg.Nodes[i]
		}
		seen := map[string]bool{}
		for i, port := range cfg.Inputs {
			pp := fmt.Sprintf("%s.inputs[%d]", path, i)
			if port.Name == "" {
				v.errf(ErrCodeBadConfig, pp, "port name is required")
			} else if seen[port.Name] {
				v.errf(ErrCodeDuplicate, pp, "duplicate port name %q", port.Name)
			}
			seen[port.Name] = true
			if _, ok := inner[port.NodeID]; !ok {
				v.errf(ErrCodeDangling, pp, "input port %q targets unknown internal node %q", port.Name, port.NodeID)
			}
		}
		for i, port := range cfg.Outputs {
			pp := fmt.Sprintf("%s.outputs[%d]", path, i)
			if _, ok := inner[port.NodeID]; !ok {
				v.errf(ErrCodeDangling, pp, "output port %q names unknown internal node %q", port.Name, port.NodeID)
			}
			// Forwards into the parent namespace; unconnected ports are fine.
			if port.DestinationNodeID != "" {
				v.validateDestination(pp, port.DestinationNodeID, graph, exitPorts)
			}
		}

	case *GroupConfig:
		if cfg.Tag == "" {
			v.errf(ErrCodeBadConfig, path+".tag", "group tag is required")
		}

	default:
		v.errf(ErrCodeBadConfig, path, "unhandled node type %s", n.Type)
	}
}

func (v *validator) validateAggregation(path string, agg Aggregation) {
	switch agg.Method {
	case AggregateSum, AggregateAverage, AggregateCount, AggregateMin, AggregateMax:
	case AggregateFormula:
		if agg.Formula == "" {
			v.errf(ErrCodeBadConfig, path+".formula", "formula aggregation requires a formula")
		}
	default:
		v.errf(ErrCodeBadConfig, path+".method", "unknown aggregation method %q", agg.Method)
	}

	switch agg.Trigger.Type {
	case TriggerTime:
		if agg.Trigger.Window <= 0 {
			v.errf(ErrCodeBadConfig, path+".trigger.window", "time trigger requires a positive window")
		}
	case TriggerCount:
		if agg.Trigger.Threshold <= 0 {
			v.errf(ErrCodeBadConfig, path+".trigger.threshold", "count trigger requires a positive threshold")
		}
	default:
		v.errf(ErrCodeBadConfig, path+".trigger.type", "unknown trigger type %q", agg.Trigger.Type)
	}
}

func (v *validator) validateInputs(path string, inputs []InputPort, graph map[string]*Node) {
	seen := map[string]bool{}
	for i, in := range inputs {
		ip := fmt.Sprintf("%s[%d]", path, i)
		if in.Name == "" {
			v.errf(ErrCodeBadConfig, ip+".name", "input name is required")
			continue
		}
		if seen[in.Name] {
			v.errf(ErrCodeDuplicate, ip, "duplicate input name %q", in.Name)
		}
		seen[in.Name] = true
		if in.NodeID == "" {
			// Disconnected; may still be fed through a module input port
			// whose name matches the alias.
			continue
		}
		src, ok := graph[in.NodeID]
		if !ok {
			v.errf(ErrCodeDangling, ip, "input %q references unknown node %q", in.Name, in.NodeID)
			continue
		}
		if src.Type == TypeGroup {
			v.errf(ErrCodeGroupDest, ip, "input %q references Group %q; groups carry no tokens", in.Name, in.NodeID)
		}
	}
}

// validateDestination checks a routing target within one namespace. Targets
// are either a plain node ID or "moduleID.portName" addressing a module's
// declared input port. Groups are display-only and never valid targets.
func (v *validator) validateDestination(path, dest string, graph map[string]*Node, exitPorts map[string]bool) {
	if dest == "" {
		v.errf(ErrCodeDangling, path, "destinationNodeId is required")
		return
	}
	if exitPorts[dest] {
		return
	}

	if modID, portName, ok := strings.Cut(dest, "."); ok {
		mod, found := graph[modID]
		if !found {
			v.errf(ErrCodeDangling, path, "destination %q references unknown node %q", dest, modID)
			return
		}
		mc, isModule := mod.Config.(*ModuleConfig)
		if !isModule {
			v.errf(ErrCodeDangling, path, "destination %q uses port syntax but %q is a %s", dest, modID, mod.Type)
			return
		}
		for _, p := range mc.Inputs {
			if p.Name == portName {
				return
			}
		}
		v.errf(ErrCodeDangling, path, "module %q has no input port %q", modID, portName)
		return
	}

	target, found := graph[dest]
	if !found {
		v.errf(ErrCodeDangling, path, "destination references unknown node %q", dest)
		return
	}
	switch target.Type {
	case TypeGroup:
		v.errf(ErrCodeGroupDest, path, "destination %q is a Group; groups cannot receive tokens", dest)
	case TypeModule:
		v.errf(ErrCodeDangling, path, "destination %q is a Module; address one of its input ports (%q)", dest, dest+".<port>")
	}
}
