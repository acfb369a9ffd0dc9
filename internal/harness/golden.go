package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles IR types and primitives.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"seq":    ev.Seq,
			"step":   ev.Step,
			"client": ev.Client,
			"type":   string(ev.Type),
		}
		if ev.RequestID != 0 {
			m["request"] = ev.RequestID
		}
		if ev.ClientID != 0 {
			m["client_id"] = ev.ClientID
		}
		if ev.InstanceID != 0 {
			m["instance"] = ev.InstanceID
		}
		if ev.Schema != "" {
			m["schema"] = ev.Schema
		}
		if ev.Version != nil {
			m["version"] = *ev.Version
		}
		if ev.Values != nil {
			m["values"] = ev.Values
		}
		if len(ev.Metadata) > 0 {
			m["metadata"] = ev.Metadata
		}
		if ev.Error != "" {
			m["error"] = string(ev.Error)
		}
		if ev.Instances != nil {
			ids := make([]any, len(ev.Instances))
			for j, id := range ev.Instances {
				ids[j] = id
			}
			m["instances"] = ids
		}
		traceList[i] = m
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
}

// CanonicalTrace renders the trace of a result as canonical JSON.
func CanonicalTrace(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: name, Trace: result.Trace}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := CanonicalTrace(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
