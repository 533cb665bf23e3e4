// Package snapshot implements a file-backed, content-addressed snapshot
// store for a single partition of a replicated state machine.
//
// A producer stages a snapshot under pending/ as a TransientSnapshot,
// populates it with a writer callback, and either persists it — which
// atomically promotes it into snapshots/ behind a checksum sidecar and
// retires the previous latest — or aborts it. On startup the store
// reconstructs the latest valid snapshot from disk and discards
// everything else (bootstrap recovery).
//
// All mutating operations run on a single-threaded Executor dedicated to
// the partition; callers observe completion through a Future.
package snapshot
