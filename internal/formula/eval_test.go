package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_Arithmetic(t *testing.T) {
	e := NewEvaluator()

	env := BuildEnv(map[string]map[string]any{
		"inputA": TokenBinding(map[string]any{"value": 3.0}),
		"inputB": TokenBinding(map[string]any{"value": 4.0}),
	}, nil)

	result, err := e.EvaluateNumber("inputA.data.value * 2 + inputB.data.value", env)
	require.NoError(t, err)
	assert.Equal(t, 10.0, result)
}

func TestEvaluator_Comparison(t *testing.T) {
	e := NewEvaluator()

	env := BuildEnv(map[string]map[string]any{
		"inputA": TokenBinding(map[string]any{"value": 7.5}),
	}, nil)

	ok, err := e.EvaluateBool("inputA.data.value > 5", env)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvaluateBool("inputA.data.value > 10", env)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluator_ParseError(t *testing.T) {
	e := NewEvaluator()

	_, err := e.Evaluate("inputA.data.value +* 2", map[string]any{})
	require.Error(t, err)

	var ee *EvalError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, StageParse, ee.Stage)
	assert.Equal(t, "inputA.data.value +* 2", ee.Formula)
}

func TestEvaluator_EmptyFormula(t *testing.T) {
	e := NewEvaluator()

	_, err := e.Evaluate("", map[string]any{})
	require.Error(t, err)
	assert.True(t, IsEvalError(err))
}

func TestEvaluator_MaxLength(t *testing.T) {
	e := NewEvaluator()
	e.MaxLength = 8

	_, err := e.Evaluate("1 + 2 + 3 + 4", map[string]any{})
	require.Error(t, err)

	var ee *EvalError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, StageParse, ee.Stage)
}

func TestEvaluator_TypeMismatch(t *testing.T) {
	e := NewEvaluator()

	_, err := e.EvaluateNumber(`"not a number"`, map[string]any{})
	require.Error(t, err)

	var ee *EvalError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, StageType, ee.Stage)
}

func TestEvaluator_CacheReuse(t *testing.T) {
	e := NewEvaluator()

	env := map[string]any{"x": 1.0}
	_, err := e.Evaluate("x + 1", env)
	require.NoError(t, err)
	assert.Equal(t, 1, e.CachedPrograms())

	// Same formula, different binding value: cached program is reused.
	env["x"] = 5.0
	result, err := e.EvaluateNumber("x + 1", env)
	require.NoError(t, err)
	assert.Equal(t, 6.0, result)
	assert.Equal(t, 1, e.CachedPrograms())
}

func TestEvaluator_VariablesAndInputs(t *testing.T) {
	e := NewEvaluator()

	env := BuildEnv(map[string]map[string]any{
		"reading": TokenBinding(map[string]any{"value": 20.0}),
	}, map[string]any{
		"threshold": 15.0,
	})

	ok, err := e.EvaluateBool("reading.data.value > threshold", env)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBuildEnv_InputsShadowVariables(t *testing.T) {
	env := BuildEnv(map[string]map[string]any{
		"x": TokenBinding(map[string]any{"value": 1.0}),
	}, map[string]any{
		"x": 99.0,
	})

	view, ok := env["x"].(map[string]any)
	require.True(t, ok, "input alias should win over variable")
	assert.Equal(t, map[string]any{"value": 1.0}, view["data"])
}

func TestAggregateEnv(t *testing.T) {
	env := AggregateEnv([]map[string]any{
		{"value": 2.0},
		{"value": 4.0},
		{"value": 9.0},
	})

	assert.Equal(t, 3, env["count"])
	assert.Equal(t, 15.0, env["sum"])
	assert.Equal(t, 5.0, env["average"])
	assert.Equal(t, 2.0, env["min"])
	assert.Equal(t, 9.0, env["max"])

	e := NewEvaluator()
	result, err := e.EvaluateNumber("sum / count", env)
	require.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestAggregateEnv_Empty(t *testing.T) {
	env := AggregateEnv(nil)
	assert.Equal(t, 0, env["count"])
	assert.Equal(t, 0.0, env["sum"])
	assert.Equal(t, 0.0, env["average"])
}
