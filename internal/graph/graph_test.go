package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphinit/internal/component"
)

func comp(id component.ID, name string, provides, requires []string) *component.Component {
	return &component.Component{
		ID: id,
		Declaration: component.Declaration{
			Name:     name,
			Provides: provides,
			Requires: requires,
		},
	}
}

func TestLinearChainNoCycle(t *testing.T) {
	a := comp(0, "A", []string{"a"}, nil)
	b := comp(1, "B", []string{"b"}, []string{"a"})
	c := comp(2, "C", nil, []string{"b"})

	g := Build([]*component.Component{a, b, c})
	_, cyclic := g.DetectCycle()
	assert.False(t, cyclic)

	order, err := g.TopoSort()
	require.NoError(t, err)

	pos := map[string]int{}
	for i, idx := range order {
		pos[g.components[idx].Name] = i
	}
	assert.Less(t, pos["A"], pos["B"])
	assert.Less(t, pos["B"], pos["C"])
}

func TestSelfEdgeIsCycle(t *testing.T) {
	a := comp(0, "A", []string{"a"}, []string{"a"})
	g := Build([]*component.Component{a})
	cyc, cyclic := g.DetectCycle()
	assert.True(t, cyclic)
	assert.Contains(t, cyc.Components, "A")
}

func TestTwoComponentCycle(t *testing.T) {
	a := comp(0, "A", []string{"a"}, []string{"b"})
	b := comp(1, "B", []string{"b"}, []string{"a"})
	g := Build([]*component.Component{a, b})

	cyc, cyclic := g.DetectCycle()
	require.True(t, cyclic)
	assert.GreaterOrEqual(t, len(cyc.Components), 2)

	_, err := g.TopoSort()
	assert.Error(t, err)
}

func TestCycleDetectionIsStableUnderRotation(t *testing.T) {
	// Detecting on the same graph built from a rotated component order
	// reports the same cycle members, modulo starting vertex rotation.
	a := comp(0, "A", []string{"a"}, []string{"b"})
	b := comp(1, "B", []string{"b"}, []string{"c"})
	c := comp(2, "C", []string{"c"}, []string{"a"})
	g := Build([]*component.Component{a, b, c})

	cyc1, ok1 := g.DetectCycle()
	require.True(t, ok1)

	g2 := Build([]*component.Component{b, c, a})
	cyc2, ok2 := g2.DetectCycle()
	require.True(t, ok2)

	set := func(c Cycle) map[string]bool {
		m := map[string]bool{}
		for _, n := range c.Components {
			m[n] = true
		}
		return m
	}
	assert.Equal(t, set(cyc1), set(cyc2))
}

func TestDependents(t *testing.T) {
	a := comp(0, "A", []string{"a"}, nil)
	b := comp(1, "B", []string{"b"}, []string{"a"})
	c := comp(2, "C", nil, []string{"a"})
	g := Build([]*component.Component{a, b, c})

	deps := g.Dependents("A")
	assert.ElementsMatch(t, []string{"B", "C"}, deps)
}

func TestStronglyConnectedComponents(t *testing.T) {
	a := comp(0, "A", []string{"a"}, []string{"b"})
	b := comp(1, "B", []string{"b"}, []string{"a"})
	c := comp(2, "C", []string{"c"}, nil)
	g := Build([]*component.Component{a, b, c})

	sccs := g.StronglyConnectedComponents()
	require.Len(t, sccs, 1)
	assert.ElementsMatch(t, []string{"A", "B"}, sccs[0])
}

func TestPathFindsRouteAcrossMultipleHops(t *testing.T) {
	a := comp(0, "A", []string{"a"}, []string{"b"})
	b := comp(1, "B", []string{"b"}, []string{"c"})
	c := comp(2, "C", []string{"c"}, nil)
	g := Build([]*component.Component{a, b, c})

	path, ok := g.Path("a", "c")
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B", "C"}, path)
}

func TestPathSameProviderIsTrivial(t *testing.T) {
	a := comp(0, "A", []string{"a", "a2"}, nil)
	g := Build([]*component.Component{a})
	path, ok := g.Path("a", "a2")
	require.True(t, ok)
	assert.Equal(t, []string{"A"}, path)
}

func TestPathUnreachableCapabilityFails(t *testing.T) {
	a := comp(0, "A", []string{"a"}, nil)
	b := comp(1, "B", []string{"b"}, nil)
	g := Build([]*component.Component{a, b})
	_, ok := g.Path("a", "b")
	assert.False(t, ok)
}

func TestPathUnknownCapabilityFails(t *testing.T) {
	a := comp(0, "A", []string{"a"}, nil)
	g := Build([]*component.Component{a})
	_, ok := g.Path("a", "nonexistent")
	assert.False(t, ok)
}

func TestZeroComponents(t *testing.T) {
	g := Build(nil)
	_, cyclic := g.DetectCycle()
	assert.False(t, cyclic)
	order, err := g.TopoSort()
	require.NoError(t, err)
	assert.Empty(t, order)
}
