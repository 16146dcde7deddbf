// Package readiness is the Readiness Monitor of spec.md §4.4: it evaluates
// the file/command predicate for every component in READY_WAIT on each
// tick, fails components that overstay their timeout, and moves ready
// components to ACTIVE, publishing the provided capabilities of
// service-kind components itself (see component_ready in the original
// implementation).
package readiness
