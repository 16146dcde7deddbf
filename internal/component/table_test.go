package component

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTableHasKernelAtSlotZero(t *testing.T) {
	tbl := NewTable()
	require.Equal(t, 1, tbl.Len())

	kernel := tbl.Get(0)
	require.NotNil(t, kernel)
	assert.Equal(t, KernelComponentName, kernel.Name)
	assert.Equal(t, StateActive, kernel.State)
	assert.ElementsMatch(t, KernelCapabilities, kernel.Provides)
}

func TestAddAssignsSequentialIDs(t *testing.T) {
	tbl := NewTable()
	a, err := tbl.Add(Declaration{Name: "a", Binary: "/bin/a"})
	require.NoError(t, err)
	b, err := tbl.Add(Declaration{Name: "b", Binary: "/bin/b"})
	require.NoError(t, err)

	assert.Equal(t, ID(1), a.ID)
	assert.Equal(t, ID(2), b.ID)
	assert.Equal(t, StateInactive, a.State)
}

func TestAddDuplicateNameFails(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Add(Declaration{Name: "a", Binary: "/bin/a"})
	require.NoError(t, err)

	_, err = tbl.Add(Declaration{Name: "a", Binary: "/bin/a2"})
	assert.Error(t, err)
}

func TestByNameAndGet(t *testing.T) {
	tbl := NewTable()
	tbl.Add(Declaration{Name: "a", Binary: "/bin/a"})

	byName := tbl.ByName("a")
	require.NotNil(t, byName)
	assert.Equal(t, byName, tbl.Get(byName.ID))
	assert.Nil(t, tbl.ByName("missing"))
}

func TestProviderOf(t *testing.T) {
	tbl := NewTable()
	tbl.Add(Declaration{Name: "a", Binary: "/bin/a", Provides: []string{"net.up"}})

	provider := tbl.ProviderOf("net.up")
	require.NotNil(t, provider)
	assert.Equal(t, "a", provider.Name)
	assert.Nil(t, tbl.ProviderOf("nothing.such"))

	kernelProvider := tbl.ProviderOf("kernel.syscalls")
	require.NotNil(t, kernelProvider)
	assert.Equal(t, KernelComponentName, kernelProvider.Name)
}

func TestRebuildPreservesRuntimeForSurvivingNames(t *testing.T) {
	tbl := NewTable()
	a, _ := tbl.Add(Declaration{Name: "a", Binary: "/bin/a"})
	a.State = StateActive
	a.PID = 555
	a.RestartCount = 2

	tbl.Add(Declaration{Name: "b", Binary: "/bin/b"})

	tbl.Rebuild([]Declaration{
		{Name: "a", Binary: "/bin/a-v2"},
		{Name: "c", Binary: "/bin/c"},
	})

	require.Equal(t, 3, tbl.Len()) // kernel + a + c
	newA := tbl.ByName("a")
	require.NotNil(t, newA)
	assert.Equal(t, StateActive, newA.State)
	assert.Equal(t, 555, newA.PID)
	assert.Equal(t, 2, newA.RestartCount)
	assert.Equal(t, "/bin/a-v2", newA.Binary, "declarative fields come from the new decl")

	assert.Nil(t, tbl.ByName("b"), "names that don't survive a reload are dropped")

	newC := tbl.ByName("c")
	require.NotNil(t, newC)
	assert.Equal(t, StateInactive, newC.State)
}

func TestRebuildSkipsKernelNameCollisionAndDuplicates(t *testing.T) {
	tbl := NewTable()
	tbl.Rebuild([]Declaration{
		{Name: KernelComponentName, Binary: "/bin/evil"},
		{Name: "a", Binary: "/bin/a"},
		{Name: "a", Binary: "/bin/a-dup"},
	})

	require.Equal(t, 2, tbl.Len()) // kernel + a
	kernel := tbl.Get(0)
	assert.Equal(t, KernelComponentName, kernel.Name)
	assert.Equal(t, StateActive, kernel.State)

	a := tbl.ByName("a")
	require.NotNil(t, a)
	assert.Equal(t, "/bin/a", a.Binary, "first duplicate wins")
}

func TestCandidateComponentsDoesNotMutateLiveTable(t *testing.T) {
	tbl := NewTable()
	tbl.Add(Declaration{Name: "a", Binary: "/bin/a"})

	candidates := tbl.CandidateComponents([]Declaration{
		{Name: "a", Binary: "/bin/a-v2"},
		{Name: "b", Binary: "/bin/b"},
	})

	require.Len(t, candidates, 3) // kernel + a + b
	assert.Equal(t, KernelComponentName, candidates[0].Name)
	assert.Equal(t, "a", candidates[1].Name)
	assert.Equal(t, "b", candidates[2].Name)

	require.Equal(t, 2, tbl.Len(), "CandidateComponents must not touch the live table")
	assert.Nil(t, tbl.ByName("b"))
}

func TestCandidateComponentsSkipsKernelCollisionAndDuplicates(t *testing.T) {
	tbl := NewTable()

	candidates := tbl.CandidateComponents([]Declaration{
		{Name: KernelComponentName, Binary: "/bin/evil"},
		{Name: "a", Binary: "/bin/a"},
		{Name: "a", Binary: "/bin/a-dup"},
	})

	require.Len(t, candidates, 2) // kernel + a
	assert.Equal(t, "a", candidates[1].Name)
	assert.Equal(t, "/bin/a", candidates[1].Binary, "first duplicate wins, matching Rebuild")
}

func TestSnapshot(t *testing.T) {
	tbl := NewTable()
	a, _ := tbl.Add(Declaration{Name: "a", Binary: "/bin/a"})
	a.State = StateActive
	a.PID = 10

	snap := tbl.Snapshot()
	require.Contains(t, snap, "a")
	assert.Equal(t, StateActive, snap["a"].State)
	assert.Equal(t, 10, snap["a"].PID)
}

func TestProvidesCapability(t *testing.T) {
	c := &Component{Declaration: Declaration{Provides: []string{"x", "y"}}}
	assert.True(t, c.ProvidesCapability("x"))
	assert.False(t, c.ProvidesCapability("z"))
}

func TestHasPID(t *testing.T) {
	assert.False(t, StateInactive.HasPID())
	assert.True(t, StateStarting.HasPID())
	assert.True(t, StateReadyWait.HasPID())
	assert.True(t, StateActive.HasPID())
	assert.True(t, StateDegraded.HasPID())
	assert.False(t, StateFailed.HasPID())
	assert.False(t, StateOneshotDone.HasPID())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ACTIVE", StateActive.String())
	assert.Equal(t, "ONESHOT_DONE", StateOneshotDone.String())
}
