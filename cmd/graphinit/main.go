// Command graphinit is PID 1: it mounts the early pseudo-filesystems, wires
// every subsystem together, resumes from a kernel-transition manifest if one
// is present, and then runs the event loop until a graceful-shutdown signal
// arrives. As PID 1 it must never exit (spec.md §4.12, §7, §9): any fatal
// initialization or loop error instead falls back to an emergency shell, and
// if even that fails, sleeps forever rather than let the kernel panic.
package main

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"graphinit/internal/capability"
	"graphinit/internal/cgroupfs"
	"graphinit/internal/checkpoint"
	"graphinit/internal/component"
	"graphinit/internal/config"
	"graphinit/internal/control"
	"graphinit/internal/eventloop"
	"graphinit/internal/graph"
	"graphinit/internal/health"
	"graphinit/internal/isolation"
	"graphinit/internal/kexec"
	"graphinit/internal/readiness"
	"graphinit/internal/resolver"
	"graphinit/internal/supervisor"
	"graphinit/internal/upgrade"
	"graphinit/pkg/logging"
)

const (
	declDir              = "/etc/graph.d"
	logDir               = "/run/graph"
	controlSocket        = "/run/graph-resolver.sock"
	cgroupRoot           = "/sys/fs/cgroup/graph"
	ephemeralCheckpoint  = "/run/graph/checkpoints"
	persistentCheckpoint = "/var/lib/graph/checkpoints"
)

// emergencyShells are tried in order when a fatal error leaves PID 1 with
// nothing useful left to run (spec.md §9 "Emergency-shell fallback").
var emergencyShells = []string{"/bin/sh", "/bin/busybox"}

func main() {
	logging.InitForCLI(logging.LevelInfo, os.Stdout)

	if os.Getpid() == 1 {
		mountEarlyFilesystems()
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		logging.Error("Boot", err, "cannot create log directory %s", logDir)
	}

	loop, kx, err := bootstrap()
	if err != nil {
		logging.Error("Boot", err, "bootstrap failed")
		emergencyFallback()
		return
	}

	if kexec.ManifestExists(persistentCheckpoint) {
		logging.Info("Boot", "kernel-transition manifest found, resuming")
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		if err := kx.Resume(ctx); err != nil {
			logging.Error("Boot", err, "kexec resume failed, continuing with a cold boot")
		}
		cancel()
	}

	if err := loop.Run(context.Background()); err != nil {
		logging.Error("EventLoop", err, "event loop returned")
		emergencyFallback()
		return
	}

	// Run only returns nil after a clean graceful shutdown (SIGTERM/SIGINT);
	// PID 1 still must not exit, so idle forever instead of returning from main.
	logging.Info("Boot", "event loop exited cleanly; idling as PID 1 requires")
	select {}
}

func bootstrap() (*eventloop.Loop, *kexec.Coordinator, error) {
	for _, dir := range []string{declDir, ephemeralCheckpoint, persistentCheckpoint} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
	}

	table := component.NewTable()
	caps := capability.New()

	// The event loop's own first reload() re-parses declDir and re-runs this
	// same check before committing anything to the table (graph.Build is
	// cheap and meant to be rebuilt, not kept in sync); this pre-flight check
	// exists only to refuse booting at all on a cyclic initial graph (spec.md
	// §7: initial boot refuses to start, unlike a reload which just warns and
	// keeps the prior snapshot).
	decls, errs := config.Load(declDir)
	for _, e := range errs {
		logging.Warn("Boot", "declaration error: %v", e)
	}
	if cyc, found := graph.Build(table.CandidateComponents(decls)).DetectCycle(); found {
		return nil, nil, fmt.Errorf("bootstrap: initial declaration graph contains a cycle: %s", cyc)
	}

	cgMgr := cgroupfs.New(cgroupRoot)
	iso := isolation.New()
	sup := supervisor.New(caps, cgMgr, iso, logDir)

	readinessMon := readiness.New(caps, sup)
	healthMon := health.New(caps, sup)
	res := resolver.New(caps, sup)

	store := checkpoint.New(ephemeralCheckpoint, persistentCheckpoint)

	// No built-in checkpoint engine ships with graphinit (spec.md §9 "Checkpoint
	// engine as collaborator"): a conforming engine may be wired in here as an
	// external binary or in-process library. Absent one, Tier 1 upgrades and
	// the checkpoint control-channel commands simply report themselves
	// unsupported; the fall-through tiers still work.
	var engine checkpoint.Engine

	upg := upgrade.New(caps, sup, store, engine)
	kx := kexec.New(caps, table, store, engine, persistentCheckpoint)

	ctl, err := control.Listen(controlSocket)
	if err != nil {
		return nil, nil, err
	}

	cfg := eventloop.Config{DeclDir: declDir, LogDir: logDir, ControlSocket: controlSocket}
	loop := eventloop.New(cfg, table, caps, sup, readinessMon, healthMon, res, upg, kx, store, engine, ctl)
	return loop, kx, nil
}

// mountEarlyFilesystems mounts the kernel pseudo-filesystems a freshly booted
// kernel expects PID 1 to provide before anything else runs (spec.md §6).
func mountEarlyFilesystems() {
	type mountSpec struct {
		source, target, fstype string
		flags                  uintptr
		data                   string
	}
	specs := []mountSpec{
		{"proc", "/proc", "proc", 0, ""},
		{"sysfs", "/sys", "sysfs", 0, ""},
		{"devtmpfs", "/dev", "devtmpfs", 0, ""},
		{"tmpfs", "/run", "tmpfs", 0, "mode=0755"},
		{"devpts", "/dev/pts", "devpts", 0, ""},
	}
	for _, s := range specs {
		if err := os.MkdirAll(s.target, 0o755); err != nil {
			logging.Warn("Boot", "cannot create mount point %s: %v", s.target, err)
			continue
		}
		if err := syscall.Mount(s.source, s.target, s.fstype, s.flags, s.data); err != nil {
			logging.Warn("Boot", "mount %s on %s failed: %v", s.fstype, s.target, err)
		}
	}
}

// emergencyFallback execs the first available emergency shell. If none can
// be exec'd, it sleeps forever: PID 1 exiting would panic the kernel, and
// that is strictly worse than a hung boot an operator can still inspect over
// the console.
func emergencyFallback() {
	for _, shell := range emergencyShells {
		if _, err := os.Stat(shell); err != nil {
			continue
		}
		logging.Error("Boot", nil, "execing emergency shell %s", shell)
		if err := syscall.Exec(shell, []string{shell}, os.Environ()); err != nil {
			logging.Error("Boot", err, "exec of emergency shell %s failed", shell)
			continue
		}
		return // unreachable on success: Exec replaces this process image
	}
	logging.Error("Boot", nil, "no emergency shell available, sleeping forever")
	select {}
}
