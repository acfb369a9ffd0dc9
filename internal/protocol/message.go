package protocol

import (
	"errors"

	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
	"github.com/etiennedemoulin/nodes-lamb/internal/schema"
)

// Type discriminates messages.
type Type string

const (
	// Server pushes.
	Hello           Type = "HELLO"
	StateUpdated    Type = "STATE_UPDATED"
	StateDeleted    Type = "STATE_DELETED"
	InstanceCreated Type = "INSTANCE_CREATED"

	// Client requests.
	StateCreate           Type = "STATE_CREATE"
	StateAttach           Type = "STATE_ATTACH"
	StateDetach           Type = "STATE_DETACH"
	StateUpdate           Type = "STATE_UPDATE"
	StateDelete           Type = "STATE_DELETE"
	CollectionSubscribe   Type = "COLLECTION_SUBSCRIBE"
	CollectionUnsubscribe Type = "COLLECTION_UNSUBSCRIBE"

	// Response answers exactly one request.
	Response Type = "RESPONSE"
)

// IsRequest reports whether t is sent by clients.
func (t Type) IsRequest() bool {
	switch t {
	case StateCreate, StateAttach, StateDetach, StateUpdate, StateDelete,
		CollectionSubscribe, CollectionUnsubscribe:
		return true
	}
	return false
}

// IsPush reports whether t is an unsolicited server message.
func (t Type) IsPush() bool {
	switch t {
	case Hello, StateUpdated, StateDeleted, InstanceCreated:
		return true
	}
	return false
}

// Message is the single envelope used for every message type. Unused
// fields are omitted on the wire.
type Message struct {
	Type      Type   `json:"type"`
	RequestID uint64 `json:"request_id,omitempty"`

	ClientID   int64             `json:"client_id,omitempty"`
	Schema     string            `json:"schema,omitempty"`
	InstanceID int64             `json:"instance_id,omitempty"`
	Values     ir.Values         `json:"values,omitempty"`
	Version    uint64            `json:"version,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	// Definition accompanies create/attach/subscribe responses and
	// INSTANCE_CREATED pushes.
	Definition *schema.Description `json:"definition,omitempty"`

	// Instances is the member snapshot of a COLLECTION_SUBSCRIBE response.
	Instances []Instance `json:"instances,omitempty"`

	Error *ir.Error `json:"error,omitempty"`
}

// Instance is a full snapshot of one state instance.
type Instance struct {
	ID      int64     `json:"id"`
	Schema  string    `json:"schema"`
	Values  ir.Values `json:"values"`
	Version uint64    `json:"version"`
	Owner   int64     `json:"owner,omitempty"` // owning client id, 0 for server-owned instances
}

// Err returns the error carried by a RESPONSE, or nil.
func (m Message) Err() error {
	if m.Error == nil {
		return nil
	}
	return m.Error
}

// Reply builds the RESPONSE to m.
func (m Message) Reply() Message {
	return Message{Type: Response, RequestID: m.RequestID}
}

// Fail builds the error RESPONSE to m. Errors that carry no ir.Error are
// reported with the PROTOCOL code.
func (m Message) Fail(err error) Message {
	return Message{Type: Response, RequestID: m.RequestID, Error: AsError(err)}
}

// AsError converts err to its wire form.
func AsError(err error) *ir.Error {
	if err == nil {
		return nil
	}
	var e *ir.Error
	if errors.As(err, &e) {
		out := *e
		return &out
	}
	return &ir.Error{Code: ir.CodeProtocol, Message: err.Error()}
}
