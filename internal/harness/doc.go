// Package harness runs YAML-defined store scenarios end to end.
//
// A scenario is a named sequence of operations executed against a
// fresh store with a deterministic clock and id source, followed by
// assertions over the folded state. Scenarios live in testdata as
// YAML:
//
//	name: decision-key-conflict
//	description: concurrent publishes on one key open a conflict
//	scope: project:demo
//	flow:
//	  - op: publish
//	    args: {summary: "Use sqlite", type: decision, decision_key: storage, instance: ins-a}
//	  - op: publish
//	    args: {summary: "Use postgres", type: decision, decision_key: storage, instance: ins-b}
//	  - op: reduce
//	    args: {instance: ins-a}
//	assertions:
//	  - type: open_conflicts
//	    count: 1
//	  - type: active_objects
//	    object_type: decision
//	    count: 1
//
// Supported ops: sync.start, sync.heartbeat, sync.stop, capture,
// publish, distill, reduce, lease.acquire, lease.release, reconcile,
// diagnose, and tick (advances the clock without touching the store).
// A step that should be refused declares the expected fault kind via
// "fail"; any other error aborts the run.
//
// Assertion types:
//
//	active_objects  — count (and optionally newest summary) of the
//	                  active fold, per scope and object type
//	open_conflicts  — count of unresolved conflict ledger entries
//	lease_state     — whether a (scope, key) lease is live and who
//	                  holds it
//	score           — score and band of the latest scorecard
//	event_count     — total lines across a zone's shards
//
// The harness never touches the wall clock: each step executes at the
// next tick of a fixed-step clock seeded from the scenario, so runs
// are reproducible byte for byte.
package harness
