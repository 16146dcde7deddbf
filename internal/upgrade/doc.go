// Package upgrade is the Upgrade Coordinator of spec.md §4.9: a three-tier
// live upgrade (checkpoint -> fd-passing -> restart) that falls through on
// failure, never skipping back to an earlier tier.
//
// The overall shape — a coordinator struct driving the tier transitions,
// JSON-friendly metadata, exec.Cmd-based process control under context
// timeouts — follows the mirendev-runtime upgrade coordinator in
// the retrieval pack's other_examples/; the tier mechanics themselves
// (rollback-on-failure semantics, the fixed fd-passing slot, the
// terminate-then-kill-after-grace pattern) are grounded on
// handoff.c/checkpoint-mgmt.c in the original implementation.
package upgrade
