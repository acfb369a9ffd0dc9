package harness

import (
	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
	"github.com/etiennedemoulin/nodes-lamb/internal/journal"
	"github.com/etiennedemoulin/nodes-lamb/internal/protocol"
)

// TraceEvent is one message delivered to one client. Steps are numbered
// from 1; connection HELLOs belong to step 0.
type TraceEvent struct {
	Seq    int64         `json:"seq"`
	Step   int           `json:"step"`
	Client string        `json:"client"`
	Type   protocol.Type `json:"type"`

	RequestID  uint64            `json:"request,omitempty"`
	ClientID   int64             `json:"client_id,omitempty"`
	InstanceID int64             `json:"instance,omitempty"`
	Schema     string            `json:"schema,omitempty"`
	Version    *uint64           `json:"version,omitempty"`
	Values     ir.Values         `json:"values,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Error      ir.ErrorCode      `json:"error,omitempty"`
	Instances  []int64           `json:"instances,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step and assertion held.
	Pass bool `json:"pass"`

	// Trace lists every delivered message in delivery order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the live instance set after the last step.
	State []protocol.Instance `json:"state,omitempty"`

	// Journal holds the commits recorded during the run.
	Journal []journal.Entry `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func traceEvent(m protocol.Message) TraceEvent {
	ev := TraceEvent{
		Type:       m.Type,
		RequestID:  m.RequestID,
		ClientID:   m.ClientID,
		InstanceID: m.InstanceID,
		Schema:     m.Schema,
		Metadata:   m.Metadata,
	}
	if m.Error != nil {
		ev.Error = m.Error.Code
	}
	if m.InstanceID != 0 && m.Error == nil && (m.Values != nil || m.Definition != nil) {
		v := m.Version
		ev.Version = &v
	}
	// Snapshots sent along a definition are left out; diffs are kept.
	if m.Values != nil && m.Definition == nil {
		ev.Values = m.Values
	}
	if m.Instances != nil {
		ev.Instances = make([]int64, len(m.Instances))
		for i, inst := range m.Instances {
			ev.Instances[i] = inst.ID
		}
	}
	return ev
}
