package upgrade

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"graphinit/internal/capability"
	"graphinit/internal/checkpoint"
	"graphinit/internal/component"
	"graphinit/internal/handoff"
	"graphinit/pkg/logging"
)

// handoffFD is the fixed fd number the new instance's duplicated handoff
// channel end lands on in the child (spec.md §4.9 Tier 2, step 2).
const handoffFD = 4

// handoffFDEnvVar carries the fd number to the child as a second,
// redundant signal alongside the fixed slot convention.
const handoffFDEnvVar = "GRAPHINIT_HANDOFF_FD"

// completionTimeout bounds Tier 2's wait for the handoff completion token.
const completionTimeout = 10 * time.Second

// terminateGrace is how long the coordinator waits for a signaled process
// to exit before escalating to SIGKILL.
const terminateGrace = 1 * time.Second

// Starter signals component processes. Satisfied by
// *supervisor.Supervisor.
type Starter interface {
	Stop(comp *component.Component, sig syscall.Signal) error
}

// Coordinator is the Upgrade Coordinator of spec.md §4.9.
type Coordinator struct {
	caps   *capability.Registry
	sup    Starter
	store  *checkpoint.Store
	engine checkpoint.Engine
}

// New builds a Coordinator. engine may be nil, in which case Tier 1 is
// always skipped (IsSupported reports false for a nil engine).
func New(caps *capability.Registry, sup Starter, store *checkpoint.Store, engine checkpoint.Engine) *Coordinator {
	return &Coordinator{caps: caps, sup: sup, store: store, engine: engine}
}

// Upgrade attempts to live-upgrade comp, trying tiers in order and falling
// through to the next on failure. comp must exist and be ACTIVE.
func (c *Coordinator) Upgrade(ctx context.Context, comp *component.Component) error {
	if comp.State != component.StateActive {
		return fmt.Errorf("upgrade: component %q is not ACTIVE (state=%s)", comp.Name, comp.State)
	}

	if comp.Handoff == component.HandoffCheckpoint && c.engineSupported() {
		if c.tierCheckpoint(ctx, comp) {
			return nil
		}
		logging.Warn("Upgrade", "component %q: checkpoint tier failed, falling through to fd-passing", comp.Name)
	}

	if comp.Handoff == component.HandoffCheckpoint || comp.Handoff == component.HandoffFDPassing {
		if c.tierFDPassing(ctx, comp) {
			return nil
		}
		logging.Warn("Upgrade", "component %q: fd-passing tier failed, falling through to restart", comp.Name)
	}

	return c.tierRestart(comp)
}

func (c *Coordinator) engineSupported() bool {
	return c.engine != nil && c.engine.IsSupported()
}

// tierCheckpoint is Tier 1 (spec.md §4.9). Returns true on success.
func (c *Coordinator) tierCheckpoint(ctx context.Context, comp *component.Component) bool {
	id, dir, err := c.store.CreateDir(comp.Name, false)
	if err != nil {
		logging.Warn("Upgrade", "tier1: %q: create checkpoint dir: %v", comp.Name, err)
		return false
	}
	rollback := func() { _ = c.store.Remove(comp.Name, id, false) }

	oldPID := comp.PID
	if err := c.engine.Checkpoint(ctx, oldPID, dir, true); err != nil {
		logging.Warn("Upgrade", "tier1: %q: checkpoint failed: %v", comp.Name, err)
		rollback()
		return false
	}

	meta := checkpoint.Metadata{
		ComponentName: comp.Name,
		OriginalPID:   oldPID,
		Timestamp:     time.Now().Unix(),
		Capabilities:  strings.Join(comp.Provides, ","),
		LeaveRunning:  true,
	}
	if err := checkpoint.SaveMetadata(dir, meta); err != nil {
		logging.Warn("Upgrade", "tier1: %q: save metadata failed: %v", comp.Name, err)
		rollback()
		return false
	}

	newPID, err := c.engine.Restore(ctx, dir)
	if err != nil {
		logging.Warn("Upgrade", "tier1: %q: restore failed: %v", comp.Name, err)
		rollback()
		return false
	}

	c.terminateWithGrace(oldPID)
	rollback() // cleanup the temporary checkpoint on success too (spec.md §4.9 step 6)

	comp.PID = newPID
	c.settlePostUpgradeState(comp)
	logging.Info("Upgrade", "component %q upgraded via checkpoint (pid %d -> %d)", comp.Name, oldPID, newPID)
	return true
}

// tierFDPassing is Tier 2 (spec.md §4.9). Returns true on success.
func (c *Coordinator) tierFDPassing(ctx context.Context, comp *component.Component) bool {
	local, remote, err := handoff.CreateChannel()
	if err != nil {
		logging.Warn("Upgrade", "tier2: %q: create channel: %v", comp.Name, err)
		return false
	}
	defer local.Close()

	cmd := exec.CommandContext(ctx, comp.Binary, comp.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", handoffFDEnvVar, handoffFD))
	// ExtraFiles[i] lands on fd 3+i in the child; a filler occupies fd 3 so
	// the handoff endpoint lands on the fixed slot (fd 4).
	filler, ferr := os.Open(os.DevNull)
	if ferr != nil {
		logging.Warn("Upgrade", "tier2: %q: open devnull filler: %v", comp.Name, ferr)
		remote.Close()
		return false
	}
	defer filler.Close()
	remoteFile := os.NewFile(uintptr(remote.FD()), "handoff-remote")
	cmd.ExtraFiles = []*os.File{filler, remoteFile}

	if err := cmd.Start(); err != nil {
		logging.Warn("Upgrade", "tier2: %q: fork failed: %v", comp.Name, err)
		remote.Close()
		return false
	}
	remote.Close() // parent no longer needs the remote end once duped into the child
	go func() { _ = cmd.Wait() }()

	oldPID := comp.PID
	if err := syscall.Kill(oldPID, syscall.SIGUSR1); err != nil {
		logging.Warn("Upgrade", "tier2: %q: signal old pid %d: %v", comp.Name, oldPID, err)
		c.killProcess(cmd.Process.Pid)
		return false
	}

	if err := local.WaitComplete(completionTimeout); err != nil {
		logging.Warn("Upgrade", "tier2: %q: handoff did not complete: %v", comp.Name, err)
		c.killProcess(cmd.Process.Pid)
		return false
	}

	newPID := cmd.Process.Pid
	comp.PID = newPID
	c.settlePostUpgradeState(comp)

	time.Sleep(terminateGrace)
	if processAlive(oldPID) {
		_ = syscall.Kill(oldPID, syscall.SIGKILL)
	}
	logging.Info("Upgrade", "component %q upgraded via fd-passing (pid %d -> %d)", comp.Name, oldPID, newPID)
	return true
}

// tierRestart is Tier 3 (spec.md §4.9): always succeeds from the
// coordinator's point of view — the resolver starts a fresh instance on
// its next pass.
func (c *Coordinator) tierRestart(comp *component.Component) error {
	for _, name := range comp.Provides {
		c.caps.Withdraw(name)
	}
	oldPID := comp.PID
	if oldPID > 0 {
		_ = c.sup.Stop(comp, syscall.SIGTERM)
		deadline := time.Now().Add(completionTimeout)
		for processAlive(oldPID) && time.Now().Before(deadline) {
			time.Sleep(100 * time.Millisecond)
		}
		if processAlive(oldPID) {
			_ = syscall.Kill(oldPID, syscall.SIGKILL)
		}
	}
	comp.PID = 0
	comp.RestartCount = 0
	comp.State = component.StateInactive
	logging.Info("Upgrade", "component %q upgraded via restart (old pid %d terminated)", comp.Name, oldPID)
	return nil
}

// settlePostUpgradeState applies the normal readiness rule post-upgrade:
// immediate ACTIVE (with capability publication) for none-readiness, or
// READY_WAIT otherwise, letting the Readiness Monitor gate publication.
func (c *Coordinator) settlePostUpgradeState(comp *component.Component) {
	if comp.Readiness.Method == component.ReadinessNone {
		comp.State = component.StateActive
		for _, name := range comp.Provides {
			c.caps.Register(name, comp.ID)
		}
		return
	}
	comp.State = component.StateReadyWait
	comp.ReadyWaitStart = time.Now()
}

func (c *Coordinator) terminateWithGrace(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(pid, syscall.SIGTERM)
	time.Sleep(terminateGrace)
	if processAlive(pid) {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
}

func (c *Coordinator) killProcess(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(pid, syscall.SIGKILL)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if err := syscall.Kill(pid, 0); err != nil {
		return false
	}
	// A terminated child that nobody has waited for yet still accepts
	// signal 0; its /proc state is 'Z', and it counts as gone.
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return true
	}
	if i := strings.LastIndexByte(string(stat), ')'); i >= 0 && i+2 < len(stat) {
		return stat[i+2] != 'Z'
	}
	return true
}
