// Package protocol defines the messages exchanged between the state server
// and its clients.
//
// Every message is a JSON object with a "type" discriminator. Requests carry
// a client-chosen request_id which the matching RESPONSE echoes; pushes
// (HELLO, STATE_UPDATED, STATE_DELETED, INSTANCE_CREATED) carry none.
//
// Schema registration is not part of the wire protocol. Schemas are
// registered in-process on the server before clients connect.
package protocol
