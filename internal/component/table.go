package component

import (
	"fmt"

	"graphinit/pkg/logging"
)

// KernelComponentName is the synthetic component always present at slot 0,
// providing the built-in capability set (spec.md §4.2).
const KernelComponentName = "kernel"

// KernelCapabilities are the built-in capabilities the synthetic kernel
// component provides: kernel syscalls, memory, scheduling, and the early
// pseudo-filesystems mounted before any declared component runs.
var KernelCapabilities = []string{
	"kernel.syscalls",
	"kernel.memory",
	"kernel.scheduling",
	"kernel.pseudofs",
}

// Table is the Component Table of spec.md §4.2. It is driven entirely from
// the event-loop thread; no internal locking is required (spec.md §5).
type Table struct {
	components []*Component
	byName     map[string]ID
	nextID     ID
}

// NewTable returns a table pre-populated with the synthetic kernel
// component in slot 0, ACTIVE, providing KernelCapabilities.
func NewTable() *Table {
	t := &Table{byName: make(map[string]ID)}
	kernel := &Component{
		ID: 0,
		Declaration: Declaration{
			Name:     KernelComponentName,
			Kind:     KindService,
			Provides: append([]string(nil), KernelCapabilities...),
		},
		Runtime: Runtime{State: StateActive},
	}
	t.components = append(t.components, kernel)
	t.byName[kernel.Name] = 0
	t.nextID = 1
	return t
}

// Add inserts a new component built from decl, assigning it the next
// ID. It fails if a component with the same name already exists (the
// Table's invariant: no two records share a name).
func (t *Table) Add(decl Declaration) (*Component, error) {
	if _, exists := t.byName[decl.Name]; exists {
		return nil, fmt.Errorf("component %q already exists", decl.Name)
	}
	c := &Component{ID: t.nextID, Declaration: decl, Runtime: Runtime{State: StateInactive}}
	t.components = append(t.components, c)
	t.byName[decl.Name] = c.ID
	t.nextID++
	return c, nil
}

// Get returns the component with the given ID, or nil.
func (t *Table) Get(id ID) *Component {
	for _, c := range t.components {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// ByName returns the component with the given name, or nil.
func (t *Table) ByName(name string) *Component {
	id, ok := t.byName[name]
	if !ok {
		return nil
	}
	return t.Get(id)
}

// All returns the table's components in insertion order. Callers must not
// retain the slice across a Rebuild.
func (t *Table) All() []*Component {
	return t.components
}

// Len returns the number of components in the table, including the
// synthetic kernel component.
func (t *Table) Len() int {
	return len(t.components)
}

// ProviderOf returns the component providing capability name by scanning
// provides[], or nil if none does. Used by internal/graph to build the
// induced dependency graph (spec.md §4.3): "an edge exists from component A
// to component B whenever some required capability of A is provided by B".
func (t *Table) ProviderOf(capabilityName string) *Component {
	for _, c := range t.components {
		if c.ProvidesCapability(capabilityName) {
			return c
		}
	}
	return nil
}

// Rebuild replaces the table's declarative content from decls, preserving
// runtime fields (pid, state, counters) for any component whose name
// survives across the reload (spec.md §4.2, §9 scenario 5). PID, state and
// friends for names that disappear are simply dropped. The synthetic kernel
// component at slot 0 is always preserved untouched.
func (t *Table) Rebuild(decls []Declaration) {
	old := make(map[string]Runtime, len(t.components))
	oldCaps := make(map[string][]string, len(t.components))
	for _, c := range t.components {
		if c.Name == KernelComponentName {
			continue
		}
		old[c.Name] = c.Runtime
		oldCaps[c.Name] = c.Provides
	}

	kernel := t.components[0]
	t.components = []*Component{kernel}
	t.byName = map[string]ID{kernel.Name: kernel.ID}
	t.nextID = kernel.ID + 1

	for _, decl := range decls {
		if decl.Name == KernelComponentName {
			logging.Warn("ComponentTable", "declaration named %q collides with the synthetic kernel component, skipping", decl.Name)
			continue
		}
		if _, dup := t.byName[decl.Name]; dup {
			logging.Warn("ComponentTable", "duplicate declaration name %q, keeping first", decl.Name)
			continue
		}
		c := &Component{ID: t.nextID, Declaration: decl, Runtime: Runtime{State: StateInactive}}
		if rt, ok := old[decl.Name]; ok {
			c.Runtime = rt
		}
		t.components = append(t.components, c)
		t.byName[decl.Name] = c.ID
		t.nextID++
	}
}

// CandidateComponents builds the component slice a newly parsed declaration
// set would produce, without touching the live table: the synthetic kernel
// component plus one entry per decl, skipping name collisions exactly as
// Rebuild does. Callers use this to run internal/graph's cycle detector
// against a reload candidate before committing it via Rebuild (spec.md §7).
func (t *Table) CandidateComponents(decls []Declaration) []*Component {
	kernel := t.components[0]
	out := []*Component{kernel}
	seen := map[string]bool{kernel.Name: true}

	for _, decl := range decls {
		if decl.Name == KernelComponentName {
			continue
		}
		if seen[decl.Name] {
			continue
		}
		out = append(out, &Component{Declaration: decl})
		seen[decl.Name] = true
	}
	return out
}

// Snapshot returns a deep-enough copy of the runtime state keyed by name,
// for callers (like the reload path) that need to restore state manually
// around a Rebuild performed elsewhere, mirroring graph-resolver.c's
// handle_inotify save/restore dance.
func (t *Table) Snapshot() map[string]Runtime {
	out := make(map[string]Runtime, len(t.components))
	for _, c := range t.components {
		out[c.Name] = c.Runtime
	}
	return out
}
