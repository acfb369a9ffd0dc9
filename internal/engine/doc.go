// Package engine implements the server side of the state manager.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Engine.Run owns every instance, session, observer registration and
// collection subscription. Callers submit commands through a FIFO queue
// (typed methods such as Create and Update wait for the result; Handle
// executes a protocol request and answers into the session outbox).
//
// Update Processing:
//  1. Coerce and clamp the partial values against the schema
//  2. Run the schema's update hook on a copy of the current values
//  3. Coerce the hook output, drop fields equal to current values
//  4. Commit the diff, bump the version, push STATE_UPDATED to every
//     observer, queue the commit for the recorder, then answer the originator
//
// An empty diff commits nothing and broadcasts nothing.
//
// Lifecycle:
// Instance ids come from a monotonic Clock and are never reused. A deleted
// id is tombstoned: later operations on it fail with INSTANCE_GONE, while
// ids that never existed fail with NOT_FOUND. Disconnecting a session
// deletes the instances it owns.
package engine
