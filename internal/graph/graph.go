package graph

import (
	"fmt"
	"strings"

	"graphinit/internal/component"
)

// dfsColor tracks the three-colour DFS state (spec.md §4.3).
type dfsColor int

const (
	white dfsColor = iota
	gray
	black
)

// Graph is the induced dependency graph over a Component Table snapshot.
// It is rebuilt fresh from the table on every call site rather than kept
// incrementally in sync.
type Graph struct {
	components []*component.Component
	// edges[i] lists the indices (into components) that components[i] depends on.
	edges [][]int
}

// Build constructs the induced graph from a Component Table: an edge runs
// from component A to component B whenever some required capability of A is
// provided by B (spec.md §4.3). A self-edge (a component requiring a
// capability it itself provides) is included and will be reported as a
// cycle.
func Build(comps []*component.Component) *Graph {
	g := &Graph{components: comps}
	g.edges = make([][]int, len(comps))

	providerIndex := make(map[string]int)
	for i, c := range comps {
		for _, p := range c.Provides {
			if _, exists := providerIndex[p]; !exists {
				providerIndex[p] = i
			}
		}
	}

	for i, c := range comps {
		seen := make(map[int]bool)
		for _, req := range c.Requires {
			if j, ok := providerIndex[req]; ok && !seen[j] {
				g.edges[i] = append(g.edges[i], j)
				seen[j] = true
			}
		}
	}
	return g
}

// Cycle describes a detected dependency cycle as the ordered list of
// component names from the point the target was first entered along the
// current DFS stack, plus the closing vertex (spec.md §4.3).
type Cycle struct {
	Components []string
}

func (c Cycle) String() string {
	if len(c.Components) == 0 {
		return ""
	}
	return strings.Join(c.Components, " -> ")
}

// DetectCycle runs three-colour DFS over the induced graph and returns the
// first cycle found, starting DFS from each unvisited vertex in table
// order. Returns ok=false if the graph is acyclic.
func (g *Graph) DetectCycle() (Cycle, bool) {
	n := len(g.components)
	colors := make([]dfsColor, n)
	var path []int
	var found Cycle
	var ok bool

	var visit func(i int) bool
	visit = func(i int) bool {
		colors[i] = gray
		path = append(path, i)

		for _, j := range g.edges[i] {
			switch colors[j] {
			case gray:
				start := -1
				for k, v := range path {
					if v == j {
						start = k
						break
					}
				}
				if start >= 0 {
					names := make([]string, 0, len(path)-start+1)
					for _, idx := range path[start:] {
						names = append(names, g.components[idx].Name)
					}
					names = append(names, g.components[j].Name)
					found = Cycle{Components: names}
				}
				return true
			case white:
				if visit(j) {
					return true
				}
			}
		}

		colors[i] = black
		path = path[:len(path)-1]
		return false
	}

	for i := 0; i < n; i++ {
		if colors[i] == white {
			if visit(i) {
				ok = true
				break
			}
		}
	}
	return found, ok
}

// TopoSort returns component indices in dependency order, every provider
// before the components that require it, using Kahn's algorithm, or an
// error if the graph has a cycle.
//
// Edges point from dependent -> provider (A requires B => edge A->B), so
// Kahn runs over the reverse relation: a component's in-degree is the
// number of providers it requires, and it is emitted once all of them have
// been emitted (e.g. "start providers first").
func (g *Graph) TopoSort() ([]int, error) {
	if _, cyclic := g.DetectCycle(); cyclic {
		return nil, fmt.Errorf("cannot topologically sort: graph contains a cycle")
	}

	n := len(g.components)
	// inDegree[j] = number of providers component j requires.
	inDegree := make([]int, n)
	// reverse[j] = components that depend on j (i.e. edges into j in the
	// original A->B relation become "B is required by A").
	reverse := make([][]int, n)
	for i, deps := range g.edges {
		for _, j := range deps {
			inDegree[i]++
			reverse[j] = append(reverse[j], i)
		}
	}

	var queue []int
	for i := 0; i < n; i++ {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	sorted := make([]int, 0, n)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		sorted = append(sorted, cur)
		for _, dependent := range reverse[cur] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(sorted) != n {
		return nil, fmt.Errorf("topological sort failed: only ordered %d of %d components (cycle?)", len(sorted), n)
	}
	return sorted, nil
}

// Dependents returns the names of every component that directly requires a
// capability provided by the named component.
func (g *Graph) Dependents(name string) []string {
	var idx = -1
	for i, c := range g.components {
		if c.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	var out []string
	for i, deps := range g.edges {
		for _, j := range deps {
			if j == idx {
				out = append(out, g.components[i].Name)
				break
			}
		}
	}
	return out
}

// StronglyConnectedComponents runs Tarjan's algorithm and returns every SCC
// with more than one member, as groups of component names. Single-node SCCs
// are omitted, including a node whose only cycle is a self-loop.
func (g *Graph) StronglyConnectedComponents() [][]string {
	n := len(g.components)
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}
	var stack []int
	counter := 0
	var sccs [][]string

	var strongconnect func(v int)
	strongconnect = func(v int) {
		index[v] = counter
		low[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.edges[v] {
			if index[w] == -1 {
				strongconnect(w)
				if low[w] < low[v] {
					low[v] = low[w]
				}
			} else if onStack[w] {
				if index[w] < low[v] {
					low[v] = index[w]
				}
			}
		}

		if low[v] == index[v] {
			var group []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				group = append(group, g.components[w].Name)
				if w == v {
					break
				}
			}
			if len(group) > 1 {
				sccs = append(sccs, group)
			}
		}
	}

	for i := 0; i < n; i++ {
		if index[i] == -1 {
			strongconnect(i)
		}
	}
	return sccs
}

// Path finds a dependency path from the provider of fromCap to the provider
// of toCap (via BFS over the induced edges) for the control channel's `path`
// command, returning the component names along the path and whether one
// exists.
func (g *Graph) Path(fromCap, toCap string) ([]string, bool) {
	fromIdx, toIdx := -1, -1
	for i, c := range g.components {
		if c.ProvidesCapability(fromCap) {
			fromIdx = i
		}
		if c.ProvidesCapability(toCap) {
			toIdx = i
		}
	}
	if fromIdx < 0 || toIdx < 0 {
		return nil, false
	}
	if fromIdx == toIdx {
		return []string{g.components[fromIdx].Name}, true
	}

	prev := make(map[int]int)
	visited := make([]bool, len(g.components))
	visited[fromIdx] = true
	queue := []int{fromIdx}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.edges[cur] {
			if visited[next] {
				continue
			}
			visited[next] = true
			prev[next] = cur
			if next == toIdx {
				return buildPath(g.components, prev, fromIdx, toIdx), true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}

func buildPath(comps []*component.Component, prev map[int]int, from, to int) []string {
	var idxs []int
	for cur := to; ; {
		idxs = append([]int{cur}, idxs...)
		if cur == from {
			break
		}
		cur = prev[cur]
	}
	names := make([]string, len(idxs))
	for i, idx := range idxs {
		names[i] = comps[idx].Name
	}
	return names
}

// DOT renders the induced graph in Graphviz dot format, for the control
// channel's `dot` command.
func (g *Graph) DOT() string {
	var b strings.Builder
	b.WriteString("digraph graphinit {\n")
	for i, c := range g.components {
		b.WriteString(fmt.Sprintf("  %q [state=%q];\n", c.Name, c.State.String()))
		for _, j := range g.edges[i] {
			b.WriteString(fmt.Sprintf("  %q -> %q;\n", c.Name, g.components[j].Name))
		}
	}
	b.WriteString("}\n")
	return b.String()
}
