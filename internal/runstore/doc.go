// Package runstore records pipeline runs.
//
// A Run holds the aggregate state of one (project, path, fingerprint) unit of
// work, the per-element state with the artifacts each completed stage
// produced, and the ordered history of every transition. The orchestrator
// writes the whole record on each transition, so Status is a single read.
//
// MemoryStore serves tests and ephemeral servers; BoltStore keeps the ledger
// in a bbolt file so runs survive restarts and can be retried later.
package runstore
