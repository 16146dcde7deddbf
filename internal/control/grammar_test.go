package control

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeDeps struct {
	lastKexecDryRun           bool
	lastKexecKernel           string
	lastKexecInitrd           string
	lastKexecCmdline          string
	checkpointRemoveComponent string
	checkpointRemoveID        string
}

func (f *fakeDeps) Status() string       { return "status-ok" }
func (f *fakeDeps) Capabilities() string { return "caps-ok" }
func (f *fakeDeps) Tree(c string) (string, error) {
	if c == "missing" {
		return "", errors.New("no such component")
	}
	return "tree:" + c, nil
}
func (f *fakeDeps) ReverseDeps(cap string) (string, error)       { return "rdeps:" + cap, nil }
func (f *fakeDeps) SimulateRemove(c string) (string, error)      { return "simulate:" + c, nil }
func (f *fakeDeps) DOT() string                                  { return "digraph{}" }
func (f *fakeDeps) Log(c string, n int) (string, error)          { return "log-ok", nil }
func (f *fakeDeps) Readiness() string                            { return "readiness-ok" }
func (f *fakeDeps) CheckReadiness(c string) (string, error)      { return "check-readiness:" + c, nil }
func (f *fakeDeps) Upgrade(c string) (string, error)             { return "upgraded:" + c, nil }
func (f *fakeDeps) Checkpoint(c string) (string, error)          { return "checkpointed:" + c, nil }
func (f *fakeDeps) Restore(c, id string) (string, error)         { return "restored:" + c + ":" + id, nil }
func (f *fakeDeps) CheckpointList(c string) (string, error)      { return "list:" + c, nil }
func (f *fakeDeps) CheckpointRemove(c, id string) (string, error) {
	f.checkpointRemoveComponent, f.checkpointRemoveID = c, id
	return "removed", nil
}
func (f *fakeDeps) Migrate(c string) (string, error)  { return "migrated:" + c, nil }
func (f *fakeDeps) CheckCycles() (string, error)      { return "no cycles", nil }
func (f *fakeDeps) Analyze() (string, error)          { return "analysis", nil }
func (f *fakeDeps) Validate() (string, error)         { return "valid", nil }
func (f *fakeDeps) Path(a, b string) (string, error)  { return "path:" + a + "->" + b, nil }
func (f *fakeDeps) SCC() (string, error)              { return "scc", nil }
func (f *fakeDeps) Kexec(dryRun bool, kernel, initrd, cmdline string) (string, error) {
	f.lastKexecDryRun = dryRun
	f.lastKexecKernel = kernel
	f.lastKexecInitrd = initrd
	f.lastKexecCmdline = cmdline
	return "kexec-ok", nil
}

func TestDispatchSimpleCommands(t *testing.T) {
	d := &fakeDeps{}
	assert.Equal(t, "status-ok", Dispatch(d, "status"))
	assert.Equal(t, "caps-ok", Dispatch(d, "caps"))
	assert.Equal(t, "digraph{}", Dispatch(d, "dot"))
	assert.Equal(t, "readiness-ok", Dispatch(d, "readiness"))
}

func TestDispatchUnknownReturnsUsage(t *testing.T) {
	assert.Contains(t, Dispatch(&fakeDeps{}, "frobnicate"), "usage:")
	assert.Contains(t, Dispatch(&fakeDeps{}, ""), "usage:")
}

func TestDispatchTreePropagatesError(t *testing.T) {
	assert.Equal(t, "error: no such component", Dispatch(&fakeDeps{}, "tree missing"))
	assert.Equal(t, "tree:alpha", Dispatch(&fakeDeps{}, "tree alpha"))
}

func TestDispatchSimulateRemove(t *testing.T) {
	assert.Equal(t, "simulate:alpha", Dispatch(&fakeDeps{}, "simulate remove alpha"))
	assert.Contains(t, Dispatch(&fakeDeps{}, "simulate keep alpha"), "usage:")
}

func TestDispatchLogDefaultsAndParsesLineCount(t *testing.T) {
	assert.Equal(t, "log-ok", Dispatch(&fakeDeps{}, "log alpha"))
	assert.Equal(t, "log-ok", Dispatch(&fakeDeps{}, "log alpha 50"))
	assert.Contains(t, Dispatch(&fakeDeps{}, "log alpha notanumber"), "usage:")
}

func TestDispatchCheckReadinessOptionalComponent(t *testing.T) {
	assert.Equal(t, "check-readiness:", Dispatch(&fakeDeps{}, "check-readiness"))
	assert.Equal(t, "check-readiness:alpha", Dispatch(&fakeDeps{}, "check-readiness alpha"))
}

func TestDispatchRestoreOptionalID(t *testing.T) {
	assert.Equal(t, "restored:alpha:", Dispatch(&fakeDeps{}, "restore alpha"))
	assert.Equal(t, "restored:alpha:42", Dispatch(&fakeDeps{}, "restore alpha 42"))
}

func TestDispatchCheckpointRm(t *testing.T) {
	d := &fakeDeps{}
	assert.Equal(t, "removed", Dispatch(d, "checkpoint-rm alpha 1700000000"))
	assert.Equal(t, "alpha", d.checkpointRemoveComponent)
	assert.Equal(t, "1700000000", d.checkpointRemoveID)
}

func TestDispatchPathRequiresTwoArgs(t *testing.T) {
	assert.Equal(t, "path:a->b", Dispatch(&fakeDeps{}, "path a b"))
	assert.Contains(t, Dispatch(&fakeDeps{}, "path a"), "usage:")
}

func TestDispatchKexecFlags(t *testing.T) {
	d := &fakeDeps{}
	got := Dispatch(d, `kexec --dry-run /boot/vmlinuz --initrd /boot/initrd --append "root=/dev/sda1 quiet"`)
	assert.Equal(t, "kexec-ok", got)
	assert.True(t, d.lastKexecDryRun)
	assert.Equal(t, "/boot/vmlinuz", d.lastKexecKernel)
	assert.Equal(t, "/boot/initrd", d.lastKexecInitrd)
	assert.Equal(t, "root=/dev/sda1 quiet", d.lastKexecCmdline)
}

func TestDispatchKexecWithoutFlags(t *testing.T) {
	d := &fakeDeps{}
	got := Dispatch(d, "kexec /boot/vmlinuz")
	assert.Equal(t, "kexec-ok", got)
	assert.False(t, d.lastKexecDryRun)
	assert.Equal(t, "/boot/vmlinuz", d.lastKexecKernel)
	assert.Equal(t, "", d.lastKexecInitrd)
}

func TestDispatchKexecRequiresExactlyOneKernelPath(t *testing.T) {
	assert.Contains(t, Dispatch(&fakeDeps{}, "kexec"), "usage:")
	assert.Contains(t, Dispatch(&fakeDeps{}, "kexec a b"), "usage:")
}
