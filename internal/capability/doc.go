// Package capability implements the process-wide capability registry
// described in spec.md §4.1: a mapping from capability name to
// {active, degraded, provider}. It is the single source of truth dependents
// consult to decide whether a requirement is currently satisfied.
//
// The registry has exactly one owner (the resolver's host process) and is
// driven entirely from the event-loop thread, so it needs no internal
// locking for the loop's own use; the mutex it does carry exists only to let
// the control-channel handler (internal/control), which may run a request
// on the same goroutine between ticks, read a consistent snapshot without
// the caller having to reason about the registry's internal layout.
package capability
