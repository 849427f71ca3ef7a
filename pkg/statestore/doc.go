// Package statestore provides the persistence layer for Deckhand.
//
// Two surfaces share one data directory. The [FileStore] persists the live
// InstallationState as a JSON document with temp-write-then-rename atomicity
// and schema-version checking; it is the single source of truth for resume
// decisions. The [History] store is a SQLite archive (WAL mode, migrations
// via golang-migrate) journaling run outcomes, phase events, and captured
// backups for `deckhand status --runs`.
//
// A single active orchestrator process per target is enforced by [AcquireLock],
// a PID-stamped lock file with crash staleness detection.
package statestore
