package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etiennedemoulin/nodes-lamb/internal/protocol"
)

func intp(n int) *int { return &n }

func TestPlayerFilterGolden(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/player_filter.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.State)
}

func TestRunIsDeterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/player_filter.yaml")
	require.NoError(t, err)

	first, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	second, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	a, err := CanonicalTrace(scenario.Name, first)
	require.NoError(t, err)
	b, err := CanonicalTrace(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestServerSteps(t *testing.T) {
	scenario := &Scenario{
		Name:        "server_globals",
		Description: "server owns globals",
		Clients:     []string{"phone"},
		Steps: []Step{
			{Client: ServerClient, Op: OpCreate, Schema: "globals", As: "g"},
			{Client: "phone", Op: OpAttach, Schema: "globals"},
			{Client: ServerClient, Op: OpSet, Ref: "g", Values: map[string]any{"master": 0.5}},
			{Client: "phone", Op: OpDelete, Ref: "g", ExpectError: "PROTOCOL"},
			{Client: "phone", Op: OpDisconnect},
		},
		Assertions: []Assertion{
			{Type: AssertValues, Ref: "g", Values: map[string]any{"master": 0.5, "mute": false}},
			{Type: AssertCollection, Schema: "globals", Count: intp(1)},
			{Type: AssertReceived, Client: "phone", Message: "STATE_UPDATED", Count: intp(1)},
			{Type: AssertJournal, Kind: "created", Count: intp(1)},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	var server []TraceEvent
	for _, ev := range result.Trace {
		if ev.Client == ServerClient {
			server = append(server, ev)
		}
	}
	require.Len(t, server, 2)
	assert.Equal(t, protocol.Response, server[0].Type)
	assert.Equal(t, int64(1), server[0].InstanceID)
	assert.Equal(t, "globals", server[0].Schema)
	require.NotNil(t, server[1].Version)
	assert.Equal(t, uint64(1), *server[1].Version)
}

func TestUnexpectedErrorFailsScenario(t *testing.T) {
	scenario := &Scenario{
		Name:        "unknown_schema",
		Description: "create of an unknown schema",
		Clients:     []string{"phone"},
		Steps: []Step{
			{Client: "phone", Op: OpCreate, Schema: "synth", As: "s"},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected error none, got UNKNOWN_SCHEMA")
}

func TestFailingAssertions(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong_expectations",
		Description: "assertions that do not hold",
		Clients:     []string{"phone"},
		Steps: []Step{
			{Client: "phone", Op: OpCreate, Schema: "player", As: "p", Values: map[string]any{"sawFreq": 200}},
		},
		Assertions: []Assertion{
			{Type: AssertValues, Ref: "p", Values: map[string]any{"sawFreq": 100}},
			{Type: AssertGone, Ref: "p"},
			{Type: AssertCollection, Schema: "player", Count: intp(2)},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "p.sawFreq = 100.0")
	assert.Contains(t, result.Errors[0], "p.sawFreq = 200.0")
	assert.Contains(t, result.Errors[1], "still live")
	assert.Contains(t, result.Errors[2], "1 live instances")
}

func TestCustomSchemaDirectory(t *testing.T) {
	dir := t.TempDir()
	cue := `package lamp

schema: lamp: {
	level: {type: "integer", default: 0, min: 0, max: 10}
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lamp.cue"), []byte(cue), 0o644))

	scenario := &Scenario{
		Name:        "lamp",
		Description: "custom schemas",
		Schemas:     dir,
		Clients:     []string{"a"},
		Steps: []Step{
			{Client: "a", Op: OpCreate, Schema: "lamp", As: "l"},
			{Client: "a", Op: OpSet, Ref: "l", Values: map[string]any{"level": 42}},
		},
		Assertions: []Assertion{
			{Type: AssertValues, Ref: "l", Values: map[string]any{"level": 10}},
		},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
