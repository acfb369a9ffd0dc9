package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/player_filter.yaml")
	require.NoError(t, err)
	assert.Equal(t, "player_filter", s.Name)
	assert.Equal(t, []string{"phone", "controller"}, s.Clients)
	require.Len(t, s.Steps, 5)
	assert.Equal(t, OpCreate, s.Steps[0].Op)
	assert.Equal(t, "p1", s.Steps[0].As)
	assert.Equal(t, map[string]string{"source": "web"}, s.Steps[2].Metadata)
	assert.Equal(t, "INSTANCE_GONE", s.Steps[4].ExpectError)
	require.NotNil(t, s.Assertions[1].Count)
	assert.Equal(t, 0, *s.Assertions[1].Count)
}

func TestLoadScenarioResolvesSchemas(t *testing.T) {
	path := writeScenario(t, `name: x
description: d
schemas: cue
clients: [a]
steps:
  - {client: a, op: subscribe, schema: player}
`)
	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "cue"), s.Schemas)
}

func TestLoadScenarioRejectsUnknownFields(t *testing.T) {
	path := writeScenario(t, `name: x
description: d
clients: [a]
step:
  - {client: a, op: subscribe, schema: player}
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestValidateScenario(t *testing.T) {
	base := func() *Scenario {
		return &Scenario{
			Name:        "x",
			Description: "d",
			Clients:     []string{"a"},
			Steps:       []Step{{Client: "a", Op: OpCreate, Schema: "player", As: "p"}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Scenario)
		want   string
	}{
		{"missing name", func(s *Scenario) { s.Name = "" }, "name is required"},
		{"missing description", func(s *Scenario) { s.Description = "" }, "description is required"},
		{"no steps", func(s *Scenario) { s.Steps = nil }, "steps list is required"},
		{"reserved client", func(s *Scenario) { s.Clients = []string{ServerClient} }, "not a valid client name"},
		{"duplicate client", func(s *Scenario) { s.Clients = []string{"a", "a"} }, "duplicate client"},
		{"unknown client", func(s *Scenario) { s.Steps[0].Client = "b" }, `unknown client "b"`},
		{"unknown op", func(s *Scenario) { s.Steps[0].Op = "poke" }, `unknown op "poke"`},
		{"create without schema", func(s *Scenario) { s.Steps[0].Schema = "" }, "schema is required for create"},
		{"unbound ref", func(s *Scenario) {
			s.Steps = append(s.Steps, Step{Client: "a", Op: OpSet, Ref: "q", Values: map[string]any{"volume": 1}})
		}, `ref "q" is not bound`},
		{"set without values", func(s *Scenario) {
			s.Steps = append(s.Steps, Step{Client: "a", Op: OpSet, Ref: "p"})
		}, "values are required for set"},
		{"as outside create", func(s *Scenario) {
			s.Steps = append(s.Steps, Step{Client: "a", Op: OpAttach, Ref: "p", As: "q"})
		}, "as is only valid on create"},
		{"server disconnect", func(s *Scenario) {
			s.Steps = append(s.Steps, Step{Client: ServerClient, Op: OpDisconnect})
		}, "server cannot disconnect"},
		{"unknown assertion", func(s *Scenario) {
			s.Assertions = []Assertion{{Type: "trace_contains"}}
		}, `unknown assertion type "trace_contains"`},
		{"collection without count", func(s *Scenario) {
			s.Assertions = []Assertion{{Type: AssertCollection, Schema: "player"}}
		}, "schema and count are required"},
		{"negative count", func(s *Scenario) {
			s.Assertions = []Assertion{{Type: AssertJournal, Count: intp(-1)}}
		}, "count must be non-negative"},
		{"values on unknown ref", func(s *Scenario) {
			s.Assertions = []Assertion{{Type: AssertValues, Ref: "z", Values: map[string]any{"volume": 1}}}
		}, `unknown ref "z"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base()
			tt.mutate(s)
			err := validateScenario(s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	require.NoError(t, validateScenario(base()))
}
