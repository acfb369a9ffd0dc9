// Package transport carries protocol messages between a client and the
// state server.
//
// A Conn is a bidirectional, ordered message channel. Two implementations
// exist: Pipe, an in-memory pair used by in-process clients and tests, and
// WebSocket connections (Dial, Upgrade) used over the network. Both encode
// messages with protocol.Encode, so an in-process peer never shares maps
// with the server.
package transport
