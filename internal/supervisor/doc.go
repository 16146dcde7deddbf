// Package supervisor is the Supervisor of spec.md §4.6: it starts
// component processes, applies the restart-rate limit, attaches children
// to their cgroup, and reaps exited children.
//
// Process launch follows component_start in the original implementation:
// start is synchronous (fork+exec happens inline, the event loop never
// blocks on a child), so a single-threaded resolve_full() pass can see
// every state transition. Reaping is done by a goroutine blocked in
// cmd.Wait per started child, which fans the result into the Exits channel
// the event loop reads; processes that are not a component's own child
// are neither reaped nor logged here.
package supervisor
