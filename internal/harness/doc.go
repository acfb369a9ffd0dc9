// Package harness runs scripted multi-client scenarios against the shared
// state engine and compares the resulting message trace with golden files.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	schemas: ./schemas        # optional CUE directory, default: lamb schemas
//	clients: [phone, controller]
//	steps:
//	  - client: phone
//	    op: create
//	    schema: player
//	    as: p1
//	    values: { sawFreq: 30 }
//	  - client: controller
//	    op: set
//	    ref: p1
//	    values: { filterSlider: 0.5 }
//	    metadata: { source: web }
//	  - client: controller
//	    op: attach
//	    ref: p1
//	    expect_error: INSTANCE_GONE
//	assertions:
//	  - type: values
//	    ref: p1
//	    values: { filterFreq: 105 }
//
// Operations are create, attach, set, detach, delete, subscribe,
// unsubscribe and disconnect. The reserved client name "server" performs
// create, set and delete with server privileges.
//
// # Assertion Types
//
//   - values: final field values of an instance (subset match)
//   - collection: number of live instances of a schema
//   - gone: an instance has been deleted
//   - received: number of messages of one type delivered to a client
//   - journal: number of journaled commits, optionally of one kind
//
// # Deterministic Testing
//
// Every delivered message is appended to the trace with a global sequence
// number. Clients connect in declaration order, each step is fully applied
// before the next starts and outboxes are drained in declaration order, so
// the trace of a scenario never changes between runs.
package harness
