// Package health is the Health Monitor of spec.md §4.5: a periodic probe
// over ACTIVE and DEGRADED components that declare a health command,
// driving the ACTIVE <-> DEGRADED <-> FAILED state machine on consecutive
// pass/fail counts.
package health
