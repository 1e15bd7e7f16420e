// Package stream implements the write side of the memory ledger.
//
// Three operations produce events:
//
//   - Capture appends a memory.captured event to the caller's private
//     daily stream. Nothing another instance can observe.
//   - Distill folds unprocessed captured events into locally-scoped view
//     objects, tracked by a processed-id set so re-runs converge.
//   - Publish appends a memory.published event to the shared bus, the
//     only path to cross-instance visibility. The bus is drained by the
//     reducer, never read back here.
//
// All three are plain append operations: no locks, no read-modify-write
// on shared state. Concurrent writers interleave at line granularity and
// the downstream fold (reduce) is idempotent, so ordering between
// processes is a non-problem by construction.
package stream
