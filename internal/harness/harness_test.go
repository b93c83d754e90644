package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantSourceCase(t *testing.T) {
	c, err := LoadCase(filepath.Join("testdata", "cases", "constant-source.yaml"))
	require.NoError(t, err)

	RunWithGolden(t, c)
}

func TestQueueSumCase(t *testing.T) {
	c, err := LoadCase(filepath.Join("testdata", "cases", "queue-sum.yaml"))
	require.NoError(t, err)

	RunWithGolden(t, c)
}

func TestRun_IsReproducible(t *testing.T) {
	c, err := LoadCase(filepath.Join("testdata", "cases", "queue-sum.yaml"))
	require.NoError(t, err)

	first, err := Run(c)
	require.NoError(t, err)
	second, err := Run(c)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
}

func TestCheck_ReportsEveryFailure(t *testing.T) {
	c, err := LoadCase(filepath.Join("testdata", "cases", "constant-source.yaml"))
	require.NoError(t, err)
	result, err := Run(c)
	require.NoError(t, err)

	three := 3
	wrong := 99
	c.Assertions = []Assertion{
		{Type: AssertLogCount, Node: "src", Action: "emitting", Count: 7},
		{Type: AssertLogContains, Node: "src", Action: "token_dropped"},
		{Type: AssertFinalState, Node: "out", Consumed: &wrong},
		{Type: AssertFinalState, Node: "out", Consumed: &three}, // passes
	}

	failures := Check(c, result)
	require.Len(t, failures, 3)
	assert.Contains(t, failures[0].Error(), "3 time(s), want 7")
}

func TestCheck_LogOrderRequiresSequence(t *testing.T) {
	c, err := LoadCase(filepath.Join("testdata", "cases", "constant-source.yaml"))
	require.NoError(t, err)
	result, err := Run(c)
	require.NoError(t, err)

	c.Assertions = []Assertion{
		{Type: AssertLogOrder, Steps: []string{"out:consuming", "src:emitting", "out:consuming"}},
	}
	assert.Empty(t, Check(c, result))

	c.Assertions = []Assertion{
		{Type: AssertLogOrder, Steps: []string{"out:consuming", "out:consuming", "out:consuming", "out:consuming"}},
	}
	assert.Len(t, Check(c, result), 1)
}
