// Package preflight validates the host before an installation run touches
// anything: disk space, memory, CPU count, port availability, and container
// engine reachability.
//
// Checks run concurrently and always all run to completion, so a single pass
// reports every unmet requirement instead of the first one. The runner
// implements orchestrator.PreflightRunner, where any failure surfaces as one
// classified preflight error the CLI maps to its own exit code.
package preflight
