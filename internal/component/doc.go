// Package component implements the Component Table of spec.md §4.2: the
// declarative record of every supervised unit plus the runtime fields the
// rest of the system drives (state, pid, counters, timers). It exclusively
// owns those runtime fields; the capability registry only ever refers back
// to a component by ID (internal/capability.Capability.Provider), never by
// pointer, so the table stays the single place that can be reloaded or torn
// down.
package component
