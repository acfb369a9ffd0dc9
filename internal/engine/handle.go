package engine

import (
	"context"

	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
	"github.com/etiennedemoulin/nodes-lamb/internal/protocol"
)

// handle executes one request on the Run goroutine and builds its RESPONSE.
func (e *Engine) handle(ctx context.Context, s *Session, m protocol.Message) protocol.Message {
	resp, err := e.dispatch(ctx, s, m)
	if err != nil {
		e.log.Debug("request failed",
			"type", m.Type,
			"request_id", m.RequestID,
			"client_id", clientID(s),
			"error", err,
		)
		return m.Fail(err)
	}
	return resp
}

func (e *Engine) dispatch(ctx context.Context, s *Session, m protocol.Message) (protocol.Message, error) {
	resp := m.Reply()

	switch m.Type {
	case protocol.StateCreate:
		inst, err := e.create(ctx, s, m.Schema, m.Values, m.Metadata)
		if err != nil {
			return resp, err
		}
		e.fillInstance(&resp, inst)

	case protocol.StateAttach:
		inst, err := e.attach(s, Target{Schema: m.Schema, InstanceID: m.InstanceID})
		if err != nil {
			return resp, err
		}
		e.fillInstance(&resp, inst)

	case protocol.StateDetach:
		if err := e.detach(ctx, s, m.InstanceID); err != nil {
			return resp, err
		}
		resp.InstanceID = m.InstanceID

	case protocol.StateUpdate:
		commit, err := e.update(ctx, s, m.InstanceID, m.Values, m.Metadata)
		if err != nil {
			return resp, err
		}
		resp.InstanceID = commit.InstanceID
		resp.Values = commit.Values
		resp.Version = commit.Version

	case protocol.StateDelete:
		if err := e.deleteOwned(ctx, s, m.InstanceID); err != nil {
			return resp, err
		}
		resp.InstanceID = m.InstanceID

	case protocol.CollectionSubscribe:
		members, err := e.subscribe(s, m.Schema)
		if err != nil {
			return resp, err
		}
		sch, _ := e.schemas.Get(m.Schema)
		desc := sch.Describe()
		resp.Schema = m.Schema
		resp.Definition = &desc
		resp.Instances = members

	case protocol.CollectionUnsubscribe:
		if err := e.unsubscribe(s, m.Schema); err != nil {
			return resp, err
		}
		resp.Schema = m.Schema

	default:
		return resp, ir.Errorf(ir.CodeProtocol, "unexpected %s message from client", m.Type)
	}

	return resp, nil
}

func (e *Engine) fillInstance(resp *protocol.Message, inst *instance) {
	desc := inst.schema.Describe()
	resp.InstanceID = inst.id
	resp.Schema = inst.schema.Name()
	resp.Values = inst.values.Clone()
	resp.Version = inst.version
	resp.Definition = &desc
}
