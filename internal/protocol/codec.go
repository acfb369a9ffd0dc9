package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
)

// Encode marshals m into its wire form.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return data, nil
}

// Decode parses and validates a wire message. Malformed input fails with
// PROTOCOL.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, ir.Errorf(ir.CodeProtocol, "malformed message: %v", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Validate checks that m carries the fields its type requires.
func (m Message) Validate() error {
	switch m.Type {
	case Hello:
		if m.ClientID == 0 {
			return protocolError(m, "client_id is required")
		}
	case StateCreate, CollectionSubscribe, CollectionUnsubscribe:
		if m.Schema == "" {
			return protocolError(m, "schema is required")
		}
	case StateAttach:
		if m.Schema == "" && m.InstanceID == 0 {
			return protocolError(m, "schema or instance_id is required")
		}
		if m.Schema != "" && m.InstanceID != 0 {
			return protocolError(m, "schema and instance_id are exclusive")
		}
	case StateDetach, StateDelete, StateUpdate, StateUpdated, StateDeleted:
		if m.InstanceID == 0 {
			return protocolError(m, "instance_id is required")
		}
	case InstanceCreated:
		if m.InstanceID == 0 || m.Schema == "" {
			return protocolError(m, "instance_id and schema are required")
		}
	case Response:
	case "":
		return ir.Errorf(ir.CodeProtocol, "message type is required")
	default:
		return ir.Errorf(ir.CodeProtocol, "unknown message type %q", m.Type)
	}

	if m.Type.IsRequest() && m.RequestID == 0 {
		return protocolError(m, "request_id is required")
	}
	return nil
}

func protocolError(m Message, msg string) *ir.Error {
	return ir.Errorf(ir.CodeProtocol, "%s: %s", m.Type, msg)
}
