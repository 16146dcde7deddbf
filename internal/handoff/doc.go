// Package handoff implements the Handoff Protocol of spec.md §4.8: a
// bidirectional Unix-domain socket channel carrying SCM_RIGHTS ancillary
// file-descriptor passing plus a fixed completion token, used by Tier 2 of
// the Upgrade Coordinator (internal/upgrade) to move listening sockets from
// an old component instance to its replacement without a gap.
//
// Wire-level behaviour (payload byte, control-message framing, completion
// token bytes, truncation-on-overflow) is grounded directly on
// send_fds/recv_fds/send_handoff_complete/wait_handoff_complete in the
// original implementation, translated onto golang.org/x/sys/unix's
// Sendmsg/Recvmsg/ParseSocketControlMessage/ParseUnixRights wrappers around
// the same SCM_RIGHTS primitives.
package handoff
