// Package graph implements cycle detection and topological ordering over
// the dependency graph induced by the Component Table (spec.md §4.3): an
// edge runs from component A to component B whenever some required
// capability of A is provided by B.
//
// Cycle detection uses three-colour DFS, exactly as the original
// implementation's graph.c does; topological ordering uses Kahn's
// algorithm. Both operate on the same adjacency relation, built fresh on
// every call — the induced graph is small and reconstructing it is cheaper
// than keeping a second copy of the Component Table's edges in sync.
package graph
