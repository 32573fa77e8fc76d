package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_UsersLifecycle(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/users_lifecycle.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestTraceSnapshot_Canonical(t *testing.T) {
	snap := TraceSnapshot{
		ScenarioName: "s",
		Trace: []TraceEvent{
			{Seq: 1, Op: "find", Collection: "users", Result: []any{}},
			{Seq: 2, Op: "drop", Collection: "users", Error: KindOther},
		},
	}
	data, err := snap.MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"s","trace":[{"collection":"users","op":"find","result":[],"seq":1},{"collection":"users","error":"error","op":"drop","seq":2}]}`,
		string(data))
}
