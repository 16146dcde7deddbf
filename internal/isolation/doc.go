// Package isolation builds the syscall.SysProcAttr a component's declared
// namespace set requires (spec.md §6 [isolation]), satisfying
// supervisor.Isolator.
//
// Go's os/exec has no pre-exec hook the way C's fork-then-configure-then-
// exec sequence does, so namespace entry happens entirely through
// Cloneflags at clone(2) time rather than through imperative calls made in
// the child between fork and exec. Chroot is applied the same way. Hostname
// isolation (requires a sethostname(2) call from inside the new UTS
// namespace, after unshare but before exec) has no equivalent exec.Cmd hook
// either: a declared uts namespace sets CLONE_NEWUTS, but the declared
// hostname is not applied — see DESIGN.md.
package isolation
