// Package kexec is the Kernel Transition of spec.md §4.11: a live kernel
// upgrade that checkpoints every active component, hands off to a freshly
// loaded kernel via the external kexec-tools utility, and restores the
// fleet on the other side.
//
// The phase sequence and manifest shape are grounded directly on
// kexec.h/kexec.c in the original implementation (kexec_perform's
// validate/checkpoint-all/load/execute pipeline, and the
// checkpoint_manifest_t layout); the Go-side structuring — a coordinator
// wrapping context-bounded exec.Cmd calls to an external CLI tool, with
// JSON manifest persistence — follows this module's own
// internal/upgrade and internal/checkpoint packages.
package kexec
