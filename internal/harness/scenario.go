package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// ServerClient names the engine itself as the actor of a step. Server steps
// go through the typed engine API with no session.
const ServerClient = "server"

// Scenario is a scripted conversation between named clients and the engine.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schemas is a directory of CUE schema files, relative to the scenario
	// file. Empty means the embedded lamb schemas.
	Schemas string `yaml:"schemas,omitempty"`

	// Clients are connected in order before the first step, so the first
	// one gets client id 1.
	Clients []string `yaml:"clients"`

	// Steps run one at a time; each step waits until the engine has
	// applied it.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation performed by one client.
type Step struct {
	// Client is a declared client name or "server".
	Client string `yaml:"client"`

	// Op is one of the Op constants.
	Op string `yaml:"op"`

	// Schema names the schema of create, subscribe and unsubscribe steps,
	// and the attach target when Ref is empty.
	Schema string `yaml:"schema,omitempty"`

	// Ref names an instance bound by an earlier create.
	Ref string `yaml:"ref,omitempty"`

	// As binds the instance created by this step.
	As string `yaml:"as,omitempty"`

	Values   map[string]any    `yaml:"values,omitempty"`
	Metadata map[string]string `yaml:"metadata,omitempty"`

	// ExpectError is the error code the step must fail with. Empty means
	// the step must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step operations.
const (
	OpCreate      = "create"
	OpAttach      = "attach"
	OpSet         = "set"
	OpDetach      = "detach"
	OpDelete      = "delete"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpDisconnect  = "disconnect"
)

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert constants.
	Type string `yaml:"type"`

	Ref    string `yaml:"ref,omitempty"`
	Schema string `yaml:"schema,omitempty"`
	Client string `yaml:"client,omitempty"`

	// Message is the message type counted by received.
	Message string `yaml:"message,omitempty"`

	// Kind filters the journal events counted by journal.
	Kind string `yaml:"kind,omitempty"`

	// Values are expected field values (subset match), coerced through
	// the instance schema before comparison.
	Values map[string]any `yaml:"values,omitempty"`

	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertValues     = "values"
	AssertCollection = "collection"
	AssertGone       = "gone"
	AssertReceived   = "received"
	AssertJournal    = "journal"
)

var ops = []string{OpCreate, OpAttach, OpSet, OpDetach, OpDelete, OpSubscribe, OpUnsubscribe, OpDisconnect}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected and a relative schemas directory is resolved against the file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Schemas != "" && !filepath.IsAbs(scenario.Schemas) {
		scenario.Schemas = filepath.Join(filepath.Dir(path), scenario.Schemas)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and that every
// step and assertion only references declared clients and bound instances.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	clients := make(map[string]bool, len(s.Clients))
	for i, name := range s.Clients {
		if name == "" || name == ServerClient {
			return fmt.Errorf("clients[%d]: %q is not a valid client name", i, name)
		}
		if clients[name] {
			return fmt.Errorf("clients[%d]: duplicate client %q", i, name)
		}
		clients[name] = true
	}

	refs := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, step, clients, refs); err != nil {
			return err
		}
		if step.As != "" {
			refs[step.As] = true
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, clients, refs); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step, clients, refs map[string]bool) error {
	if step.Client != ServerClient && !clients[step.Client] {
		return fmt.Errorf("steps[%d]: unknown client %q", i, step.Client)
	}
	if !slices.Contains(ops, step.Op) {
		return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
	}
	if step.Ref != "" && !refs[step.Ref] {
		return fmt.Errorf("steps[%d]: ref %q is not bound by an earlier create", i, step.Ref)
	}
	if step.As != "" && step.Op != OpCreate {
		return fmt.Errorf("steps[%d]: as is only valid on create", i)
	}

	switch step.Op {
	case OpCreate, OpSubscribe, OpUnsubscribe:
		if step.Schema == "" {
			return fmt.Errorf("steps[%d]: schema is required for %s", i, step.Op)
		}
	case OpAttach:
		if step.Schema == "" && step.Ref == "" {
			return fmt.Errorf("steps[%d]: attach needs a schema or a ref", i)
		}
	case OpSet, OpDetach, OpDelete:
		if step.Ref == "" {
			return fmt.Errorf("steps[%d]: ref is required for %s", i, step.Op)
		}
	case OpDisconnect:
		if step.Client == ServerClient {
			return fmt.Errorf("steps[%d]: the server cannot disconnect", i)
		}
	}
	if step.Op == OpSet && len(step.Values) == 0 {
		return fmt.Errorf("steps[%d]: values are required for set", i)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion, clients, refs map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Ref != "" && !refs[a.Ref] {
		return fmt.Errorf("assertions[%d]: unknown ref %q", index, a.Ref)
	}

	switch a.Type {
	case AssertValues:
		if a.Ref == "" || len(a.Values) == 0 {
			return fmt.Errorf("assertions[%d]: ref and values are required for values", index)
		}
	case AssertCollection:
		if a.Schema == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: schema and count are required for collection", index)
		}
	case AssertGone:
		if a.Ref == "" {
			return fmt.Errorf("assertions[%d]: ref is required for gone", index)
		}
	case AssertReceived:
		if !clients[a.Client] {
			return fmt.Errorf("assertions[%d]: unknown client %q", index, a.Client)
		}
		if a.Message == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: message and count are required for received", index)
		}
	case AssertJournal:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for journal", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Count != nil && *a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
