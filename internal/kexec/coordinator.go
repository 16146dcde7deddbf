package kexec

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"graphinit/internal/capability"
	"graphinit/internal/checkpoint"
	"graphinit/internal/component"
	"graphinit/pkg/logging"
)

// preInfoFileName is the small text sidecar written alongside the
// manifest in phase 2 (spec.md §4.11).
const preInfoFileName = "pre-transition.txt"

// checkpointSelector is the kernel command-line option the post-transition
// side parses to find the persistent root (spec.md §6, ".checkpoint=" selector).
const checkpointSelector = ".checkpoint="

// Options configures a single kernel-transition attempt.
type Options struct {
	KernelPath string
	InitrdPath string
	Cmdline    string
	DryRun     bool
}

// Coordinator is the Kernel Transition of spec.md §4.11.
type Coordinator struct {
	caps           *capability.Registry
	table          *component.Table
	store          *checkpoint.Store
	engine         checkpoint.Engine
	persistentRoot string
}

// New builds a Coordinator. persistentRoot is where the manifest and
// pre-transition sidecar are written, per spec.md §6's persistent
// checkpoint root.
func New(caps *capability.Registry, table *component.Table, store *checkpoint.Store, engine checkpoint.Engine, persistentRoot string) *Coordinator {
	return &Coordinator{caps: caps, table: table, store: store, engine: engine, persistentRoot: persistentRoot}
}

// Perform runs the full kernel-transition sequence (spec.md §4.11). On
// success phase 7 hands off control to the loaded kernel and this function
// never returns; if it does return at all (even nil), the handoff failed
// or DryRun was requested, both reported to the caller.
func (c *Coordinator) Perform(ctx context.Context, opts Options) error {
	if err := c.validate(opts); err != nil {
		return fmt.Errorf("kexec: validation failed: %w", err)
	}
	if opts.DryRun {
		logging.Info("Kexec", "dry-run: validation passed, stopping after phase 1")
		return nil
	}

	if err := c.writePreInfo(); err != nil {
		return fmt.Errorf("kexec: pre-info: %w", err)
	}

	manifest, err := c.checkpointAll(ctx, opts)
	if err != nil {
		return fmt.Errorf("kexec: checkpoint-all: %w", err)
	}

	if err := c.validateCheckpoints(manifest); err != nil {
		return fmt.Errorf("kexec: checkpoint validation: %w", err)
	}

	if err := SaveManifest(c.persistentRoot, manifest); err != nil {
		return fmt.Errorf("kexec: persist manifest: %w", err)
	}

	if err := c.loadKernel(ctx, opts); err != nil {
		return fmt.Errorf("kexec: load kernel: %w", err)
	}

	if err := c.execute(ctx); err != nil {
		return fmt.Errorf("kexec: execute: %w", err)
	}
	return fmt.Errorf("kexec: execute returned without the new kernel taking over, this is fatal")
}

// validate is phase 1.
func (c *Coordinator) validate(opts Options) error {
	if c.engine == nil || !c.engine.IsSupported() {
		return fmt.Errorf("checkpoint engine not supported on this host")
	}
	major, _, _ := c.engine.Version()
	if major < 3 {
		return fmt.Errorf("checkpoint engine version %d.x is below the required 3.0", major)
	}
	if err := validateKernelImage(opts.KernelPath); err != nil {
		return err
	}
	if err := validateInitrd(opts.InitrdPath); err != nil {
		return err
	}
	if err := checkPersistentRootSpace(c.persistentRoot); err != nil {
		return err
	}
	if err := checkKexecLoadEnabled(); err != nil {
		return err
	}
	if err := checkKexecToolPresent(); err != nil {
		return err
	}
	if err := checkEffectiveUserIsRoot(); err != nil {
		return err
	}
	if err := checkAvailableMemory(); err != nil {
		return err
	}
	return nil
}

// writePreInfo is phase 2.
func (c *Coordinator) writePreInfo() error {
	host, _ := os.Hostname()
	content := fmt.Sprintf(
		"prior_kernel_release=%s\ntimestamp=%d\nhostname=%s\narchitecture=%s\ncomponent_count=%d\n",
		currentKernelRelease(), time.Now().Unix(), host, runtime.GOARCH, c.table.Len(),
	)
	if err := os.MkdirAll(c.persistentRoot, 0o755); err != nil {
		return err
	}
	path := filepath.Join(c.persistentRoot, preInfoFileName)
	return os.WriteFile(path, []byte(content), 0o644)
}

// checkpointAll is phase 3: checkpoint every ACTIVE component, leaving it
// running, appending a manifest entry per component. Failure of any single
// component frees the partial manifest and aborts.
func (c *Coordinator) checkpointAll(ctx context.Context, opts Options) (Manifest, error) {
	m := Manifest{
		Version:       ManifestVersion,
		CreationTime:  time.Now().Unix(),
		PriorKernel:   currentKernelRelease(),
		NewKernelPath: opts.KernelPath,
		InitrdPath:    opts.InitrdPath,
		Cmdline:       opts.Cmdline,
	}

	var created []string
	abort := func(cause error) (Manifest, error) {
		for _, dir := range created {
			_ = os.RemoveAll(dir)
		}
		return Manifest{}, cause
	}

	priority := 0
	for _, comp := range c.table.All() {
		if comp.Name == component.KernelComponentName {
			continue
		}
		if comp.State != component.StateActive {
			continue
		}

		id, dir, err := c.store.CreateDir(comp.Name, false)
		if err != nil {
			return abort(fmt.Errorf("component %q: create checkpoint dir: %w", comp.Name, err))
		}
		created = append(created, dir)

		if err := c.engine.Checkpoint(ctx, comp.PID, dir, true); err != nil {
			return abort(fmt.Errorf("component %q: checkpoint: %w", comp.Name, err))
		}

		meta := checkpoint.Metadata{
			ComponentName: comp.Name,
			OriginalPID:   comp.PID,
			Timestamp:     time.Now().Unix(),
			Capabilities:  strings.Join(comp.Provides, ","),
			LeaveRunning:  true,
		}
		if err := checkpoint.SaveMetadata(dir, meta); err != nil {
			return abort(fmt.Errorf("component %q: save metadata: %w", comp.Name, err))
		}

		m.Entries = append(m.Entries, ManifestEntry{
			ComponentName:   comp.Name,
			CheckpointID:    id,
			CheckpointPath:  dir,
			OriginalPID:     comp.PID,
			Timestamp:       meta.Timestamp,
			RestorePriority: priority,
			Kind:            comp.Kind.String(),
		})
		priority++
	}

	logging.Info("Kexec", "checkpointed %d active components", len(m.Entries))
	return m, nil
}

// validateCheckpoints is phase 4. Failures on service-kind entries are
// fatal; failures on oneshot entries are logged but non-fatal.
func (c *Coordinator) validateCheckpoints(m Manifest) error {
	for _, e := range m.Entries {
		if err := checkpoint.ValidateImageDir(e.CheckpointPath); err != nil {
			if e.Kind == component.KindOneshot.String() {
				logging.Warn("Kexec", "checkpoint validation failed for oneshot %q, continuing: %v", e.ComponentName, err)
				continue
			}
			return fmt.Errorf("component %q: %w", e.ComponentName, err)
		}
	}
	return nil
}

// loadKernel is phase 6: invoke the external kexec-tools load utility.
func (c *Coordinator) loadKernel(ctx context.Context, opts Options) error {
	cmdline := opts.Cmdline
	selector := checkpointSelector + c.persistentRoot
	if cmdline == "" {
		cmdline = selector
	} else if !strings.Contains(cmdline, checkpointSelector) {
		cmdline = cmdline + " " + selector
	}

	args := []string{"-l", opts.KernelPath}
	if opts.InitrdPath != "" {
		args = append(args, "--initrd="+opts.InitrdPath)
	}
	args = append(args, "--append="+cmdline)

	cmd := exec.CommandContext(ctx, kexecTool, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w", kexecTool, strings.Join(args, " "), err)
	}
	logging.Info("Kexec", "kernel %s loaded", opts.KernelPath)
	return nil
}

// execute is phase 7: hand off control to the loaded kernel.
func (c *Coordinator) execute(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, kexecTool, "-e")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Resume implements the new-kernel-side half of spec.md §4.11: if a
// persisted manifest exists, restore every entry in priority order and
// update the Component Table's pid field for matches, then remove the
// consumed checkpoint artefacts. Individual restore failures are logged,
// never fatal — survivors keep running.
func (c *Coordinator) Resume(ctx context.Context) error {
	if !ManifestExists(c.persistentRoot) {
		return nil
	}

	m, err := LoadManifest(c.persistentRoot)
	if err != nil {
		return fmt.Errorf("kexec: resume: load manifest: %w", err)
	}

	restored := 0
	for _, e := range sortedByPriority(m.Entries) {
		pid, err := c.engine.Restore(ctx, e.CheckpointPath)
		if err != nil {
			logging.Warn("Kexec", "resume: restore of %q failed, skipping: %v", e.ComponentName, err)
			continue
		}
		if comp := c.table.ByName(e.ComponentName); comp != nil {
			comp.PID = pid
			comp.State = component.StateActive
			for _, name := range comp.Provides {
				c.caps.Register(name, comp.ID)
			}
			restored++
		} else {
			logging.Warn("Kexec", "resume: restored pid %d for %q but no matching component declaration", pid, e.ComponentName)
		}
	}

	logging.Info("Kexec", "resume: restored %d/%d components", restored, len(m.Entries))
	return c.cleanupCheckpoints(m)
}

// cleanupCheckpoints removes the checkpoint directories consumed by a
// completed resume, plus the manifest and pre-info sidecar themselves.
func (c *Coordinator) cleanupCheckpoints(m Manifest) error {
	for _, e := range m.Entries {
		if err := os.RemoveAll(e.CheckpointPath); err != nil {
			logging.Warn("Kexec", "cleanup: failed to remove %s: %v", e.CheckpointPath, err)
		}
	}
	_ = os.Remove(filepath.Join(c.persistentRoot, ManifestFileName))
	_ = os.Remove(filepath.Join(c.persistentRoot, preInfoFileName))
	return nil
}
