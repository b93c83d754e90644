package fsm

import (
	"fmt"
	"strconv"
	"strings"
)

// FSL is the textual authoring surface for FSM definitions:
//
//	idle 'start' -> running;
//	running 'stop' -> idle [priority=50];
//	initial idle;
//	final done;
//	running {
//	  on_entry {
//	    emit(out, inputA.data.value * 2)
//	    log("entered running")
//	  }
//	}
//
// Parsing is best-effort: unparsable lines are reported as issues and
// skipped; subsequent lines still parse. The first state mentioned becomes
// the initial state unless an explicit `initial` marker says otherwise.

// ParseIssue reports a line the parser could not understand.
type ParseIssue struct {
	Line   int    `json:"line"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

func (i ParseIssue) String() string {
	return fmt.Sprintf("line %d: %s: %s", i.Line, i.Reason, i.Text)
}

type fslParser struct {
	def    *Definition
	states map[string]int // state id -> index in def.States
	issues []ParseIssue

	// block parsing state
	inState  string // state whose block is open, "" otherwise
	inEntry  bool
	explicit bool // initial state set via marker
}

// ParseFSL parses FSL text into a Definition. The returned issues list
// covers every line that had to be skipped; a non-empty list does not mean
// the definition is unusable.
func ParseFSL(src string) (*Definition, []ParseIssue) {
	p := &fslParser{
		def:    &Definition{},
		states: make(map[string]int),
	}

	for i, raw := range strings.Split(src, "\n") {
		line := stripComment(raw)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		p.parseLine(i+1, line)
	}

	if p.inState != "" {
		p.report(0, p.inState, "unclosed state block")
	}
	return p.def, p.issues
}

func (p *fslParser) parseLine(n int, line string) {
	// Inside a state block.
	if p.inState != "" {
		switch {
		case line == "}" && p.inEntry:
			p.inEntry = false
		case line == "}":
			p.inState = ""
		case strings.HasPrefix(line, "on_entry") && strings.HasSuffix(line, "{"):
			p.inEntry = true
		case p.inEntry:
			p.parseAction(n, line)
		default:
			p.report(n, line, "unexpected line inside state block")
		}
		return
	}

	switch {
	case strings.HasSuffix(line, "{"):
		name := strings.TrimSpace(strings.TrimSuffix(line, "{"))
		if !isIdent(name) {
			p.report(n, line, "state block requires a state name")
			return
		}
		p.ensureState(name)
		p.inState = name

	case strings.HasPrefix(line, "initial "):
		name := strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(line, "initial ")), ";")
		if !isIdent(name) {
			p.report(n, line, "initial marker requires a state name")
			return
		}
		p.ensureState(name)
		p.setInitial(name)
		p.explicit = true

	case strings.HasPrefix(line, "final "):
		name := strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(line, "final ")), ";")
		if !isIdent(name) {
			p.report(n, line, "final marker requires a state name")
			return
		}
		p.ensureState(name)
		p.def.States[p.states[name]].Type = StateFinal

	default:
		p.parseTransition(n, line)
	}
}

// parseTransition handles `from 'trigger' -> to;` with an optional
// `[priority=N]` suffix before the semicolon.
func (p *fslParser) parseTransition(n int, line string) {
	text := strings.TrimSuffix(line, ";")

	priority := 0
	if open := strings.LastIndex(text, "["); open >= 0 && strings.HasSuffix(strings.TrimSpace(text), "]") {
		attr := strings.TrimSpace(text[open+1 : strings.LastIndex(text, "]")])
		if val, ok := strings.CutPrefix(attr, "priority="); ok {
			parsed, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil {
				p.report(n, line, "invalid priority attribute")
				return
			}
			priority = parsed
			text = text[:open]
		} else {
			p.report(n, line, fmt.Sprintf("unknown attribute %q", attr))
			return
		}
	}

	from, rest, ok := strings.Cut(strings.TrimSpace(text), "'")
	if !ok {
		p.report(n, line, "expected quoted trigger")
		return
	}
	trigger, rest, ok := strings.Cut(rest, "'")
	if !ok {
		p.report(n, line, "unterminated trigger quote")
		return
	}
	arrow, to, ok := strings.Cut(rest, "->")
	if !ok || strings.TrimSpace(arrow) != "" {
		p.report(n, line, "expected '->' after trigger")
		return
	}

	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if !isIdent(from) || !isIdent(to) || trigger == "" {
		p.report(n, line, "malformed transition")
		return
	}

	p.ensureState(from)
	p.ensureState(to)
	p.def.Transitions = append(p.def.Transitions, Transition{
		From:     from,
		To:       to,
		Trigger:  TriggerMessage,
		Message:  trigger,
		Priority: priority,
	})
}

// parseAction handles `emit(output, formula)` and `log("message")` inside
// an on_entry block.
func (p *fslParser) parseAction(n int, line string) {
	idx := p.states[p.inState]

	switch {
	case strings.HasPrefix(line, "emit(") && strings.HasSuffix(line, ")"):
		args := line[len("emit(") : len(line)-1]
		output, formulaText, ok := strings.Cut(args, ",")
		if !ok || strings.TrimSpace(output) == "" || strings.TrimSpace(formulaText) == "" {
			p.report(n, line, "emit requires (output, formula)")
			return
		}
		p.def.States[idx].OnEntry = append(p.def.States[idx].OnEntry, Action{
			Type:    ActionEmit,
			Output:  strings.TrimSpace(output),
			Formula: strings.TrimSpace(formulaText),
		})

	case strings.HasPrefix(line, "log(") && strings.HasSuffix(line, ")"):
		arg := strings.TrimSpace(line[len("log(") : len(line)-1])
		msg, err := strconv.Unquote(arg)
		if err != nil {
			p.report(n, line, "log requires a quoted message")
			return
		}
		p.def.States[idx].OnEntry = append(p.def.States[idx].OnEntry, Action{
			Type:    ActionLog,
			Message: msg,
		})

	default:
		p.report(n, line, "unknown entry action")
	}
}

func (p *fslParser) ensureState(id string) {
	if _, ok := p.states[id]; ok {
		return
	}
	typ := StateIntermediate
	if len(p.def.States) == 0 {
		typ = StateInitial
	}
	p.states[id] = len(p.def.States)
	p.def.States = append(p.def.States, State{ID: id, Name: id, Type: typ})
	if p.def.InitialState == "" && !p.explicit {
		p.def.InitialState = id
	}
}

func (p *fslParser) setInitial(id string) {
	for i := range p.def.States {
		if p.def.States[i].Type == StateInitial {
			p.def.States[i].Type = StateIntermediate
		}
	}
	p.def.States[p.states[id]].Type = StateInitial
	p.def.InitialState = id
}

func (p *fslParser) report(line int, text, reason string) {
	p.issues = append(p.issues, ParseIssue{Line: line, Text: text, Reason: reason})
}

// FormatFSL renders a definition back to FSL text. Only the constructs FSL
// can express are rendered: message transitions, initial/final markers, and
// emit/log entry actions. Timer, condition and manual transitions, variables,
// interpretation rules, and feedback config survive only in JSON.
func FormatFSL(def *Definition) string {
	var b strings.Builder

	if def.InitialState != "" {
		fmt.Fprintf(&b, "initial %s;\n", def.InitialState)
	}
	for _, s := range def.States {
		if s.Type == StateFinal {
			fmt.Fprintf(&b, "final %s;\n", s.ID)
		}
	}

	for _, t := range def.Transitions {
		if t.Trigger != TriggerMessage {
			continue
		}
		if t.Priority != 0 {
			fmt.Fprintf(&b, "%s '%s' -> %s [priority=%d];\n", t.From, t.Message, t.To, t.Priority)
		} else {
			fmt.Fprintf(&b, "%s '%s' -> %s;\n", t.From, t.Message, t.To)
		}
	}

	for _, s := range def.States {
		if len(s.OnEntry) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s {\n  on_entry {\n", s.ID)
		for _, a := range s.OnEntry {
			switch a.Type {
			case ActionEmit:
				fmt.Fprintf(&b, "    emit(%s, %s)\n", a.Output, a.Formula)
			case ActionLog:
				fmt.Fprintf(&b, "    log(%q)\n", a.Message)
			}
		}
		b.WriteString("  }\n}\n")
	}

	return b.String()
}

func stripComment(line string) string {
	// Quote-aware enough for FSL: comments never appear inside the single
	// quotes of a trigger, so a naive scan outside quotes suffices.
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch {
		case line[i] == '\'':
			inQuote = !inQuote
		case !inQuote && line[i] == '#':
			return line[:i]
		case !inQuote && line[i] == '/' && i+1 < len(line) && line[i+1] == '/':
			return line[:i]
		}
	}
	return line
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
