package fsm

import (
	"fmt"
	"sort"
	"strings"
)

// Interpret converts a raw event into a message using the definition's
// interpretation rules.
//
// Rules are considered ordered by priority (highest first); equal priorities
// keep declaration order. The first enabled rule whose conditions match
// wins. Events no rule claims pass through as an event-flagged message
// carrying the raw fields, so TriggerEvent transitions can still react.
//
// A formula-rule evaluation error is returned to the caller for logging;
// the event is then treated as unmatched by that rule.
func (d *Definition) Interpret(ev Event, eval EvalBool) (Message, []error) {
	var errs []error

	for _, rule := range orderedRules(d.InterpretationRules) {
		if !rule.Enabled {
			continue
		}

		matched, err := ruleMatches(rule, ev, eval)
		if err != nil {
			errs = append(errs, fmt.Errorf("interpretation rule %s: %w", rule.ID, err))
			continue
		}
		if !matched {
			continue
		}

		name := rule.Message
		if name == "" {
			name = ev.Name
		}
		return Message{
			Name:   name,
			Fields: interpolateTemplate(rule.Template, ev),
		}, errs
	}

	// No rule claimed the event: pass it through unchanged.
	return Message{Name: ev.Name, Fields: ev.Fields, FromEvent: true}, errs
}

// orderedRules returns rules sorted by descending priority, stable so that
// declaration order breaks ties.
func orderedRules(rules []InterpretationRule) []InterpretationRule {
	ordered := make([]InterpretationRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})
	return ordered
}

func ruleMatches(rule InterpretationRule, ev Event, eval EvalBool) (bool, error) {
	switch rule.Method {
	case MethodPassthrough:
		return true, nil

	case MethodPattern:
		for field, want := range rule.Conditions {
			got, ok := ev.Fields[field]
			if !ok {
				return false, nil
			}
			if fmt.Sprint(got) != fmt.Sprint(want) {
				return false, nil
			}
		}
		return true, nil

	case MethodFormula:
		env := map[string]any{
			"event": map[string]any{"name": ev.Name, "fields": ev.Fields},
		}
		return eval(rule.Condition, env)

	default:
		return false, fmt.Errorf("unsupported interpretation method %q", rule.Method)
	}
}

// interpolateTemplate renders the message fields, replacing ${event.field}
// placeholders with the corresponding event payload values. Fields without
// placeholders are carried as literals. A nil template copies the raw event
// fields through.
func interpolateTemplate(template map[string]string, ev Event) map[string]any {
	if template == nil {
		fields := make(map[string]any, len(ev.Fields))
		for k, v := range ev.Fields {
			fields[k] = v
		}
		return fields
	}

	fields := make(map[string]any, len(template))
	for key, text := range template {
		fields[key] = interpolate(text, ev)
	}
	return fields
}

func interpolate(text string, ev Event) any {
	const prefix = "${event."
	const suffix = "}"

	// A template that is exactly one placeholder keeps the field's type.
	if strings.HasPrefix(text, prefix) && strings.HasSuffix(text, suffix) &&
		strings.Count(text, "${") == 1 {
		field := text[len(prefix) : len(text)-len(suffix)]
		if v, ok := ev.Fields[field]; ok {
			return v
		}
		return nil
	}

	// Otherwise substitute each placeholder textually.
	out := text
	for {
		start := strings.Index(out, prefix)
		if start < 0 {
			return out
		}
		end := strings.Index(out[start:], suffix)
		if end < 0 {
			return out
		}
		field := out[start+len(prefix) : start+end]
		var rendered string
		if v, ok := ev.Fields[field]; ok {
			rendered = fmt.Sprint(v)
		}
		out = out[:start] + rendered + out[start+end+len(suffix):]
	}
}
