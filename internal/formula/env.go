package formula

// TokenBinding wraps a token payload in the shape formulas expect.
//
// A formula reads token fields through the `data` member:
//
//	inputA.data.value
//
// The payload map is exposed as-is; formulas never mutate it.
func TokenBinding(payload map[string]any) map[string]any {
	if payload == nil {
		payload = map[string]any{}
	}
	return map[string]any{"data": payload}
}

// BuildEnv builds a binding environment from input token views and variables.
//
// Input aliases take precedence over variables on name collision so a formula
// that names a declared input always sees the token, never a shadowing
// variable. Collisions are a scenario-authoring smell but must still resolve
// deterministically.
func BuildEnv(inputs map[string]map[string]any, vars map[string]any) map[string]any {
	env := make(map[string]any, len(inputs)+len(vars))
	for name, value := range vars {
		env[name] = value
	}
	for alias, view := range inputs {
		env[alias] = view
	}
	return env
}

// AggregateEnv builds the environment for Queue aggregation formulas.
//
// Exposes the buffered token values as:
//   - values: []float64 of each token's data.value (non-numeric become 0)
//   - tokens: []map with the full data view per token
//   - count, sum, average, min, max: precomputed convenience bindings
func AggregateEnv(payloads []map[string]any) map[string]any {
	values := make([]float64, len(payloads))
	tokens := make([]map[string]any, len(payloads))

	var sum float64
	var minV, maxV float64
	for i, p := range payloads {
		tokens[i] = TokenBinding(p)
		if n, ok := AsNumber(p["value"]); ok {
			values[i] = n
		}
		sum += values[i]
		if i == 0 || values[i] < minV {
			minV = values[i]
		}
		if i == 0 || values[i] > maxV {
			maxV = values[i]
		}
	}

	avg := 0.0
	if len(values) > 0 {
		avg = sum / float64(len(values))
	}

	return map[string]any{
		"values":  values,
		"tokens":  tokens,
		"count":   len(values),
		"sum":     sum,
		"average": avg,
		"min":     minV,
		"max":     maxV,
	}
}
