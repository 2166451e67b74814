// Package task persists photo-processing tasks in SQLite and exposes helpers
// for driving their lifecycle.
//
// The Store manages database connections, schema initialization, stats
// queries, conditional status transitions, and the append-only change feed
// that the listener consumes. Tasks capture product metadata, per-photo
// color-correction and publish results, the audit log, and retry bookkeeping
// so pipeline steps can coordinate without additional state.
//
// Status transitions go through CommitTransition, which only writes when the
// task still holds the status the writer read. Exactly one concurrent writer
// wins; the rest observe ErrStatusConflict and drop their work. Every winning
// transition appends a row to task_changes, the feed that drives dispatch.
//
// Treat this package as the single source of truth for task semantics; when
// you add new statuses or metadata fields, update schema.sql and bump
// schemaVersion.
package task
