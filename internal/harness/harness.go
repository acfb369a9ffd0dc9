package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"

	"github.com/etiennedemoulin/nodes-lamb/internal/engine"
	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
	"github.com/etiennedemoulin/nodes-lamb/internal/journal"
	"github.com/etiennedemoulin/nodes-lamb/internal/lamb"
	"github.com/etiennedemoulin/nodes-lamb/internal/protocol"
)

// Harness drives one scenario against a private engine.
type Harness struct {
	engine   *engine.Engine
	sessions map[string]*engine.Session
	order    []string
	refs     map[string]int64
	seq      int64
	response *protocol.Message
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh engine recording into an in-memory
// journal. Session tokens come from a sequence generator and every step is
// applied before the next one starts, so two runs of the same scenario
// produce the same trace.
//
// An error is returned when the scenario cannot be set up. Failed steps and
// assertions are reported in the result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	schemas, hooks, err := lamb.LoadRegistries(scenario.Schemas)
	if err != nil {
		return nil, err
	}

	jr, err := journal.Open(":memory:", journal.WithRun(scenario.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory journal: %w", err)
	}
	defer jr.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(schemas, hooks,
		engine.WithLogger(logger),
		engine.WithRecorder(jr),
		engine.WithTokenGenerator(engine.NewSequenceGenerator("session")),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go eng.Run(runCtx)

	h := &Harness{
		engine:   eng,
		sessions: make(map[string]*engine.Session, len(scenario.Clients)),
		order:    scenario.Clients,
		refs:     make(map[string]int64),
	}

	result := NewResult()
	for _, name := range scenario.Clients {
		s, err := eng.Connect(ctx)
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", name, err)
		}
		h.sessions[name] = s
	}
	if err := h.barrier(ctx, 0, result); err != nil {
		return nil, err
	}

	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	state, err := eng.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	result.State = state

	if err := eng.Flush(ctx); err != nil {
		return nil, err
	}
	if result.Journal, err = jr.ReadRun(ctx); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	actx := &AssertionContext{Schemas: schemas, Refs: h.refs}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// execute runs one step and checks its outcome against ExpectError.
func (h *Harness) execute(ctx context.Context, n int, step Step, result *Result) error {
	req, err := h.request(n, step)
	if err != nil {
		return err
	}

	var served *protocol.Message
	switch {
	case step.Op == OpDisconnect:
		if err := h.engine.Disconnect(ctx, h.sessions[step.Client]); err != nil {
			return err
		}
	case step.Client == ServerClient:
		resp := h.serve(ctx, req)
		served = &resp
	default:
		if err := h.engine.Handle(h.sessions[step.Client], req); err != nil {
			return err
		}
	}

	h.response = nil
	if err := h.barrier(ctx, n, result); err != nil {
		return err
	}
	if served != nil {
		result.Trace = append(result.Trace, h.record(n, ServerClient, *served))
		h.response = served
	}

	if step.Op != OpDisconnect {
		h.check(n, step, result)
	}
	return nil
}

// check compares the RESPONSE of step n with the expected error code and
// binds the created instance.
func (h *Harness) check(n int, step Step, result *Result) {
	if h.response == nil {
		result.AddError(fmt.Sprintf("step %d (%s %s): no response", n, step.Client, step.Op))
		return
	}
	got := ""
	if h.response.Error != nil {
		got = string(h.response.Error.Code)
	}
	if got != step.ExpectError {
		result.AddError(fmt.Sprintf("step %d (%s %s): expected error %s, got %s",
			n, step.Client, step.Op, orNone(step.ExpectError), orNone(got)))
		return
	}
	if step.As != "" && got == "" {
		h.refs[step.As] = h.response.InstanceID
	}
}

func orNone(code string) string {
	if code == "" {
		return "none"
	}
	return code
}

// request builds the protocol request of a step. The step number is the
// request id.
func (h *Harness) request(n int, step Step) (protocol.Message, error) {
	values, err := ir.ValuesFromGo(step.Values)
	if err != nil {
		return protocol.Message{}, err
	}
	if len(values) == 0 {
		values = nil
	}
	m := protocol.Message{
		RequestID:  uint64(n),
		Schema:     step.Schema,
		InstanceID: h.refs[step.Ref],
		Values:     values,
		Metadata:   maps.Clone(step.Metadata),
	}
	switch step.Op {
	case OpCreate:
		m.Type = protocol.StateCreate
	case OpAttach:
		m.Type = protocol.StateAttach
		if m.InstanceID != 0 {
			m.Schema = ""
		}
	case OpSet:
		m.Type = protocol.StateUpdate
	case OpDetach:
		m.Type = protocol.StateDetach
	case OpDelete:
		m.Type = protocol.StateDelete
	case OpSubscribe:
		m.Type = protocol.CollectionSubscribe
	case OpUnsubscribe:
		m.Type = protocol.CollectionUnsubscribe
	}
	return m, nil
}

// serve executes a server step through the typed engine API and renders
// the outcome as the RESPONSE a client would have received.
func (h *Harness) serve(ctx context.Context, m protocol.Message) protocol.Message {
	resp := m.Reply()
	switch m.Type {
	case protocol.StateCreate:
		inst, err := h.engine.Create(ctx, nil, m.Schema, m.Values)
		if err != nil {
			return m.Fail(err)
		}
		resp.InstanceID = inst.ID
		resp.Schema = inst.Schema
		resp.Version = inst.Version
		resp.Values = inst.Values
		if sch, err := h.engine.Schemas().Get(inst.Schema); err == nil {
			desc := sch.Describe()
			resp.Definition = &desc
		}
	case protocol.StateUpdate:
		commit, err := h.engine.Update(ctx, nil, m.InstanceID, m.Values, m.Metadata)
		if err != nil {
			return m.Fail(err)
		}
		resp.InstanceID = commit.InstanceID
		resp.Values = commit.Values
		resp.Version = commit.Version
	case protocol.StateDelete:
		if err := h.engine.Delete(ctx, nil, m.InstanceID); err != nil {
			return m.Fail(err)
		}
		resp.InstanceID = m.InstanceID
	default:
		return m.Fail(ir.Errorf(ir.CodeProtocol, "the server cannot send %s", m.Type))
	}
	return resp
}

// barrier waits until the engine has executed everything queued so far,
// then drains every outbox into the trace in client declaration order. The
// RESPONSE to request n is kept for check.
func (h *Harness) barrier(ctx context.Context, n int, result *Result) error {
	if _, err := h.engine.Snapshot(ctx); err != nil {
		return err
	}
	for _, name := range h.order {
		s := h.sessions[name]
		for {
			m, ok := s.TryNext()
			if !ok {
				break
			}
			if n > 0 && m.Type == protocol.Response && m.RequestID == uint64(n) {
				h.response = &m
			}
			result.Trace = append(result.Trace, h.record(n, name, m))
		}
	}
	return nil
}

func (h *Harness) record(n int, client string, m protocol.Message) TraceEvent {
	h.seq++
	ev := traceEvent(m)
	ev.Seq = h.seq
	ev.Step = n
	ev.Client = client
	return ev
}
