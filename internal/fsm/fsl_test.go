package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFSL_Transitions(t *testing.T) {
	src := `
// traffic light
idle 'start' -> running;
running 'pause' -> idle [priority=50];
running 'stop' -> done;
final done;
`
	def, issues := ParseFSL(src)
	require.Empty(t, issues)

	assert.Equal(t, "idle", def.InitialState, "first mentioned state is initial")
	require.Len(t, def.Transitions, 3)

	assert.Equal(t, Transition{
		From: "running", To: "idle", Trigger: TriggerMessage, Message: "pause", Priority: 50,
	}, def.Transitions[1])

	done := def.StateByID("done")
	require.NotNil(t, done)
	assert.Equal(t, StateFinal, done.Type)

	require.Empty(t, def.Validate())
}

func TestParseFSL_ExplicitInitial(t *testing.T) {
	src := `
a 'x' -> b;
initial b;
`
	def, issues := ParseFSL(src)
	require.Empty(t, issues)
	assert.Equal(t, "b", def.InitialState)
	assert.Equal(t, StateInitial, def.StateByID("b").Type)
	assert.Equal(t, StateIntermediate, def.StateByID("a").Type)
}

func TestParseFSL_EntryActions(t *testing.T) {
	src := `
idle 'go' -> work;
work {
  on_entry {
    emit(out, inputA.data.value * 2)
    log("working now")
  }
}
`
	def, issues := ParseFSL(src)
	require.Empty(t, issues)

	work := def.StateByID("work")
	require.NotNil(t, work)
	require.Len(t, work.OnEntry, 2)
	assert.Equal(t, Action{Type: ActionEmit, Output: "out", Formula: "inputA.data.value * 2"}, work.OnEntry[0])
	assert.Equal(t, Action{Type: ActionLog, Message: "working now"}, work.OnEntry[1])
}

func TestParseFSL_BadLinesReportedNotFatal(t *testing.T) {
	src := `
idle 'go' -> run;
this is not a transition
run 'stop' -> idle;
run {
  on_entry {
    teleport(somewhere)
  }
}
`
	def, issues := ParseFSL(src)
	require.Len(t, issues, 2)
	assert.Equal(t, 3, issues[0].Line)
	assert.Contains(t, issues[1].Reason, "unknown entry action")

	// The parsable lines still landed.
	assert.Len(t, def.Transitions, 2)
}

func TestParseFSL_UnclosedBlockReported(t *testing.T) {
	_, issues := ParseFSL("s {\n  on_entry {\n    log(\"x\")\n")
	require.NotEmpty(t, issues)
	assert.Contains(t, issues[len(issues)-1].Reason, "unclosed")
}

func TestFormatFSL_RoundTrip(t *testing.T) {
	src := `initial idle;
final done;
idle 'start' -> running;
running 'finish' -> done [priority=10];
running {
  on_entry {
    emit(out, value + 1)
    log("entered")
  }
}
`
	def, issues := ParseFSL(src)
	require.Empty(t, issues)

	formatted := FormatFSL(def)
	reparsed, issues := ParseFSL(formatted)
	require.Empty(t, issues)

	assert.Equal(t, def.InitialState, reparsed.InitialState)
	assert.Equal(t, def.Transitions, reparsed.Transitions)
	assert.Equal(t, def.StateByID("running").OnEntry, reparsed.StateByID("running").OnEntry)
}

func TestStripComment_QuoteAware(t *testing.T) {
	assert.Equal(t, "a 'x#y' -> b;", stripComment("a 'x#y' -> b;"))
	assert.Equal(t, "a 'x' -> b; ", stripComment("a 'x' -> b; // trailing"))
	assert.Equal(t, "", stripComment("# full line"))
}
