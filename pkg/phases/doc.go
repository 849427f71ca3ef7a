// Package phases implements the built-in installation phases for a
// compose-based container stack: host dependency checks, source checkout,
// configuration and secret rendering, certificate generation, image pull and
// build, previous-data cleanup, and stack start.
//
// Each phase is an opaque action behind the orchestrator's action contract.
// Actions classify their own failures: network-bound steps return retryable
// errors, everything else is fatal. The cleanup phase is the only
// destructive one and therefore the only phase that forces a backup capture
// before it runs.
package phases
