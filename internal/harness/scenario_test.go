package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ResolvesModels(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/users_lifecycle.yaml")
	require.NoError(t, err)

	assert.Equal(t, "users_lifecycle", s.Name)
	require.Len(t, s.Models, 1)
	assert.Equal(t, filepath.Join("testdata", "models", "users.cue"), s.Models[0])
	require.Len(t, s.Steps, 6)
	assert.Equal(t, "create", s.Steps[0].Op)
	assert.Equal(t, map[string]any{"name": "alice", "age": 30}, s.Steps[0].Values)
	require.NotNil(t, s.Steps[2].Expect)
	require.NotNil(t, s.Steps[2].Expect.Count)
	assert.Equal(t, 1, *s.Steps[2].Expect.Count)
	require.Len(t, s.Assertions, 3)
}

func TestLoadScenario_Missing(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/nope.yaml")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: x
steps:
  - op: find
    collection: users
    flow: true
`), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "steps: [{op: find, collection: users}]",
			want: "name is required",
		},
		{
			name: "no steps",
			yaml: "name: x",
			want: "steps list is required",
		},
		{
			name: "unknown driver",
			yaml: "name: x\ndriver: postgres\nsteps: [{op: find, collection: users}]",
			want: `unknown driver "postgres"`,
		},
		{
			name: "unknown lock mode",
			yaml: "name: x\nlock: {users: eventual}\nsteps: [{op: find, collection: users}]",
			want: "lock.users",
		},
		{
			name: "unknown op",
			yaml: "name: x\nsteps: [{op: upsert, collection: users}]",
			want: `unknown op "upsert"`,
		},
		{
			name: "missing collection",
			yaml: "name: x\nsteps: [{op: find}]",
			want: "collection is required for find",
		},
		{
			name: "join without block",
			yaml: "name: x\nsteps: [{op: join}]",
			want: "join requires a join block",
		},
		{
			name: "unlock without token",
			yaml: "name: x\nsteps: [{op: unlock}]",
			want: "unlock requires a token",
		},
		{
			name: "token named later",
			yaml: "name: x\nsteps: [{op: unlock, token: t}, {op: lock, collection: users, as: t}]",
			want: `token "t" is not named`,
		},
		{
			name: "as on non-lock step",
			yaml: "name: x\nsteps: [{op: find, collection: users, as: t}]",
			want: "only lock steps can name a token",
		},
		{
			name: "unknown error kind",
			yaml: "name: x\nsteps: [{op: find, collection: users, expect: {error: boom}}]",
			want: `unknown error kind "boom"`,
		},
		{
			name: "final state without collection",
			yaml: "name: x\nsteps: [{op: find, collection: users}]\nassertions: [{type: final_state, count: 1}]",
			want: "collection is required for final_state",
		},
		{
			name: "final state without expectation",
			yaml: "name: x\nsteps: [{op: find, collection: users}]\nassertions: [{type: final_state, collection: users}]",
			want: "count or expect is required",
		},
		{
			name: "trace count without count",
			yaml: "name: x\nsteps: [{op: find, collection: users}]\nassertions: [{type: trace_count, op: find}]",
			want: "op and count are required",
		},
		{
			name: "negative trace count",
			yaml: "name: x\nsteps: [{op: find, collection: users}]\nassertions: [{type: trace_count, op: find, count: -1}]",
			want: "count must be non-negative",
		},
		{
			name: "unknown assertion",
			yaml: "name: x\nsteps: [{op: find, collection: users}]\nassertions: [{type: trace_order}]",
			want: `unknown assertion type "trace_order"`,
		},
		{
			name: "missing model",
			yaml: "name: x\nmodels: [nope.cue]\nsteps: [{op: find, collection: users}]",
			want: "model path",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tc.yaml), t.TempDir())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseScenario_TokenFlow(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: tokens
steps:
  - {op: lock, collection: users, criteria: 1, as: t}
  - {op: update, collection: users, criteria: 1, values: {name: x}, token: t}
  - {op: renew, token: t}
  - {op: unlock, token: t}
`), "")
	require.NoError(t, err)
	assert.Equal(t, "t", s.Steps[1].Token)
	assert.Equal(t, 1, s.Steps[0].Criteria)
}
