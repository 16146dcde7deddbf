package kexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphinit/internal/capability"
	"graphinit/internal/checkpoint"
	"graphinit/internal/component"
)

type fakeEngine struct {
	supported     bool
	version       [3]int
	checkpointErr error
	restorePID    int
	restoreErr    error
}

func (e *fakeEngine) IsSupported() bool        { return e.supported }
func (e *fakeEngine) Version() (int, int, int) { return e.version[0], e.version[1], e.version[2] }
func (e *fakeEngine) Checkpoint(ctx context.Context, pid int, dir string, leaveRunning bool) error {
	return e.checkpointErr
}
func (e *fakeEngine) Restore(ctx context.Context, dir string) (int, error) {
	return e.restorePID, e.restoreErr
}

func writeMinimalImage(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range []string{"core-1.img", "pages-1.img", "pstree.img"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
}

func buildTable(t *testing.T, names ...string) *component.Table {
	t.Helper()
	tbl := component.NewTable()
	for _, name := range names {
		c, err := tbl.Add(component.Declaration{
			Name:     name,
			Binary:   "/bin/" + name,
			Kind:     component.KindService,
			Provides: []string{name + ".ready"},
		})
		require.NoError(t, err)
		c.State = component.StateActive
		c.PID = 10000 + int(c.ID)
	}
	return tbl
}

func TestCheckpointAllSkipsInactiveAndKernel(t *testing.T) {
	tbl := buildTable(t, "alpha", "beta")
	tbl.ByName("beta").State = component.StateInactive

	store := checkpoint.New(t.TempDir(), t.TempDir())
	engine := &fakeEngine{supported: true, version: [3]int{3, 1, 0}}
	coord := New(capability.New(), tbl, store, engine, t.TempDir())

	m, err := coord.checkpointAll(context.Background(), Options{KernelPath: "vmlinuz"})
	require.NoError(t, err)
	require.Len(t, m.Entries, 1)
	assert.Equal(t, "alpha", m.Entries[0].ComponentName)
	assert.Equal(t, 0, m.Entries[0].RestorePriority)
}

func TestCheckpointAllAbortsAndFreesPartialManifestOnFailure(t *testing.T) {
	tbl := buildTable(t, "alpha", "beta")
	store := checkpoint.New(t.TempDir(), t.TempDir())
	engine := &fakeEngine{supported: true, version: [3]int{3, 0, 0}, checkpointErr: assertErr("engine refused")}
	coord := New(capability.New(), tbl, store, engine, t.TempDir())

	_, err := coord.checkpointAll(context.Background(), Options{})
	assert.Error(t, err)

	entries, listErr := store.List("", false)
	require.NoError(t, listErr)
	assert.Empty(t, entries, "partial manifest's checkpoint dirs must be freed on abort")
}

func TestValidateCheckpointsFailsFatalOnServiceButNotOneshot(t *testing.T) {
	tbl := buildTable(t)
	store := checkpoint.New(t.TempDir(), t.TempDir())
	coord := New(capability.New(), tbl, store, &fakeEngine{supported: true}, t.TempDir())

	missingDir := filepath.Join(t.TempDir(), "missing")
	m := Manifest{Entries: []ManifestEntry{
		{ComponentName: "svc", CheckpointPath: missingDir, Kind: component.KindService.String()},
	}}
	assert.Error(t, coord.validateCheckpoints(m))

	m2 := Manifest{Entries: []ManifestEntry{
		{ComponentName: "job", CheckpointPath: missingDir, Kind: component.KindOneshot.String()},
	}}
	assert.NoError(t, coord.validateCheckpoints(m2))
}

func TestValidateCheckpointsPassesWithValidImage(t *testing.T) {
	dir := t.TempDir()
	writeMinimalImage(t, dir)
	coord := New(capability.New(), component.NewTable(), checkpoint.New(t.TempDir(), t.TempDir()), &fakeEngine{supported: true}, t.TempDir())

	m := Manifest{Entries: []ManifestEntry{{ComponentName: "alpha", CheckpointPath: dir, Kind: component.KindService.String()}}}
	assert.NoError(t, coord.validateCheckpoints(m))
}

func TestManifestSaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	m := Manifest{
		Version:       ManifestVersion,
		CreationTime:  1700000000,
		PriorKernel:   "6.1.0",
		NewKernelPath: "/boot/vmlinuz-new",
		Entries: []ManifestEntry{
			{ComponentName: "beta", RestorePriority: 1},
			{ComponentName: "alpha", RestorePriority: 0},
		},
	}
	require.NoError(t, SaveManifest(root, m))
	assert.True(t, ManifestExists(root))

	loaded, err := LoadManifest(root)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), loaded.EntryCount)
	assert.Equal(t, "6.1.0", loaded.PriorKernel)

	ordered := sortedByPriority(loaded.Entries)
	assert.Equal(t, "alpha", ordered[0].ComponentName)
	assert.Equal(t, "beta", ordered[1].ComponentName)
}

func TestResumeRestoresAndUpdatesTableThenCleansUp(t *testing.T) {
	root := t.TempDir()
	ckptDir := filepath.Join(root, "alpha", "100")
	writeMinimalImage(t, ckptDir)

	tbl := component.NewTable()
	_, err := tbl.Add(component.Declaration{Name: "alpha", Kind: component.KindService, Provides: []string{"alpha.ready"}})
	require.NoError(t, err)

	m := Manifest{Entries: []ManifestEntry{
		{ComponentName: "alpha", CheckpointID: "100", CheckpointPath: ckptDir, Kind: component.KindService.String()},
	}}
	require.NoError(t, SaveManifest(root, m))

	caps := capability.New()
	engine := &fakeEngine{supported: true, restorePID: 4242}
	coord := New(caps, tbl, checkpoint.New(t.TempDir(), t.TempDir()), engine, root)

	require.NoError(t, coord.Resume(context.Background()))

	alpha := tbl.ByName("alpha")
	require.NotNil(t, alpha)
	assert.Equal(t, 4242, alpha.PID)
	assert.Equal(t, component.StateActive, alpha.State)
	assert.True(t, caps.Active("alpha.ready"))

	assert.False(t, ManifestExists(root))
	_, statErr := os.Stat(ckptDir)
	assert.True(t, os.IsNotExist(statErr), "resume must clean up the consumed checkpoint directory")
}

func TestResumeIsNoOpWithoutManifest(t *testing.T) {
	coord := New(capability.New(), component.NewTable(), checkpoint.New(t.TempDir(), t.TempDir()), &fakeEngine{supported: true}, t.TempDir())
	assert.NoError(t, coord.Resume(context.Background()))
}

func TestResumeLogsAndContinuesOnIndividualRestoreFailure(t *testing.T) {
	root := t.TempDir()
	m := Manifest{Entries: []ManifestEntry{
		{ComponentName: "alpha", CheckpointID: "1", CheckpointPath: filepath.Join(root, "alpha", "1"), Kind: component.KindService.String()},
	}}
	require.NoError(t, SaveManifest(root, m))

	tbl := component.NewTable()
	_, err := tbl.Add(component.Declaration{Name: "alpha", Kind: component.KindService})
	require.NoError(t, err)

	engine := &fakeEngine{supported: true, restoreErr: assertErr("image corrupt")}
	coord := New(capability.New(), tbl, checkpoint.New(t.TempDir(), t.TempDir()), engine, root)

	require.NoError(t, coord.Resume(context.Background()))
	assert.Equal(t, 0, tbl.ByName("alpha").PID)
}

func TestPerformFailsValidationWhenEngineUnsupported(t *testing.T) {
	coord := New(capability.New(), component.NewTable(), checkpoint.New(t.TempDir(), t.TempDir()), &fakeEngine{supported: false}, t.TempDir())
	err := coord.Perform(context.Background(), Options{KernelPath: "vmlinuz", DryRun: true})
	assert.Error(t, err)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
