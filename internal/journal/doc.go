// Package journal provides SQLite-backed storage for the commit log of a
// state engine.
//
// The journal is an append-only events table written by the engine's Run
// goroutine through the engine.Recorder interface:
//   - created: full initial state of a new instance
//   - updated: committed diff and the metadata of the write
//   - deleted: final version of the instance
//
// # Ordering
//
// Events carry the engine's logical seq, never timestamps. Each Open starts
// a new run (a UUIDv7, so runs sort by start time) because seq restarts
// with the engine. Every read orders by run, then seq ASC, id ASC.
//
// # Identity
//
// Event ids are content addressed (ir.EventID): the same event recorded
// twice in one run is stored once.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//
// The journal is for inspection. State is never restored from it.
package journal
