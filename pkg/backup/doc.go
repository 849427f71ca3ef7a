// Package backup captures, verifies, restores, and prunes backups of the
// mutable installation artifacts (data dumps, secrets, certificates).
//
// A backup is a directory under the backup root containing a data/ tree with
// the copied artifacts and a manifest.json describing them. Every artifact
// carries a SHA-256 checksum computed while it was copied; the copy is then
// re-read and re-hashed before the manifest is written, so a published backup
// is known-good at capture time. Captures stage into a .partial directory and
// are published with a single rename, so a crashed capture never produces a
// half-written backup that restore could trust.
//
// Restore is verify-then-apply: all stored checksums are validated before any
// live file is touched, and each artifact is applied by writing a temp file
// next to the destination and renaming it into place.
//
// The manager implements orchestrator.BackupManager, so the orchestrator can
// demand a fresh backup before any destructive phase runs.
package backup
