// Package history persists checkpointed tuplespace state.
//
// Every committed root is a complete materialized state, addressed by the
// Blake2b-256 digest of its canonical serialization. Readers are read-only
// views keyed by root; Checkpoint folds a hot-store delta over a base root
// into a new root and saves the session event log alongside it for replay.
//
// The store is SQLite in WAL mode with a single-writer connection. All
// blobs are canonical JSON, so identical records always produce identical
// bytes and the idempotent ON CONFLICT writes behave as content addressing.
package history
