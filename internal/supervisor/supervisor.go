package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"graphinit/internal/capability"
	"graphinit/internal/component"
	"graphinit/pkg/logging"
)

// restartWindow and restartLimit implement the rate limit of spec.md §4.6:
// a component that has restarted restartLimit times within restartWindow is
// backed off instead of started again.
const (
	restartWindow = 30 * time.Second
	restartLimit  = 5
)

// CgroupAttacher creates a component's cgroup, exposes it as an open file
// descriptor the supervisor can clone the child directly into, and (as a
// fallback) can move an already-running pid into it. It is satisfied by
// internal/cgroupfs; kept as an interface here so supervisor has no direct
// dependency on the cgroupfs v2 filesystem layout.
type CgroupAttacher interface {
	Create(comp *component.Component) (path string, err error)
	Open(path string) (*os.File, error)
	AddProcess(path string, pid int) error
}

// Isolator builds the namespace/chroot attributes for a child process. It is
// satisfied by internal/isolation.
type Isolator interface {
	SysProcAttr(iso component.Isolation) *syscall.SysProcAttr
}

// ExitEvent reports a reaped child, fanned in from the per-child goroutine
// that waited on it (see Exits).
type ExitEvent struct {
	Comp  *component.Component
	State *os.ProcessState
}

// Supervisor owns process start/stop/reap for every component in the table.
type Supervisor struct {
	caps     *capability.Registry
	cgroups  CgroupAttacher
	isolator Isolator
	logDir   string
	exits    chan ExitEvent
}

// New builds a Supervisor. cgroups and isolator may be nil, in which case
// components run without resource limits or namespace isolation (useful in
// tests and on systems without cgroup v2). logDir is where each component's
// stdout/stderr is appended (spec.md §6: "/run/graph/<component>.log"); an
// empty logDir falls back to the supervisor's own stdout/stderr.
func New(caps *capability.Registry, cgroups CgroupAttacher, isolator Isolator, logDir string) *Supervisor {
	return &Supervisor{caps: caps, cgroups: cgroups, isolator: isolator, logDir: logDir, exits: make(chan ExitEvent, 16)}
}

// Exits is the event loop's child-exit wake source: the Go translation of
// the self-pipe trick (spec.md §4.12, REDESIGN FLAGS "Signal-driven wake").
// os/exec already reaps its own children via cmd.Wait() internally, so a
// second, independent wait4()-on-SIGCHLD path would just race it for
// nothing; fanning every child's Wait() result into one channel gives the
// event loop the same "ordinary readable event" semantics the self-pipe
// trick targets, without fighting the standard library's own reaper.
func (s *Supervisor) Exits() <-chan ExitEvent {
	return s.exits
}

// Start launches comp's binary. It applies the restart-rate limit, then
// forks+execs synchronously: by the time Start returns, comp.PID and
// comp.State already reflect the outcome, matching component_start's
// synchronous contract so a single resolve_full() pass sees the result
// without waiting on a goroutine.
//
// The cgroup is created and opened before the fork so the child can be
// cloned directly into it (spec.md §4.6: "create cgroup and apply declared
// limits, then fork a child"), rather than attached after it is already
// running.
func (s *Supervisor) Start(comp *component.Component) error {
	now := time.Now()
	if comp.RestartCount >= restartLimit && now.Sub(comp.LastRestart) < restartWindow {
		logging.Warn("Supervisor", "component %q restarting too fast, backing off", comp.Name)
		return fmt.Errorf("supervisor: %s: restart rate limit exceeded", comp.Name)
	}

	logging.Info("Supervisor", "starting component %q: %s", comp.Name, comp.Binary)

	var cgroupPath string
	var cgroupFD *os.File
	if s.cgroups != nil {
		path, err := s.cgroups.Create(comp)
		if err != nil {
			logging.Warn("Supervisor", "cgroup setup failed for %q: %v", comp.Name, err)
		} else {
			cgroupPath = path
			if fd, err := s.cgroups.Open(path); err != nil {
				logging.Warn("Supervisor", "cgroup open failed for %q: %v", comp.Name, err)
			} else {
				cgroupFD = fd
			}
		}
	}

	var logFile *os.File
	if s.logDir != "" {
		f, err := logging.ComponentLogWriter(s.logDir, comp.Name)
		if err != nil {
			logging.Warn("Supervisor", "cannot open log file for %q, falling back to supervisor stdout/stderr: %v", comp.Name, err)
		} else {
			logFile = f
		}
	}

	startWith := func(withCgroupFD *os.File) (*exec.Cmd, error) {
		c := exec.Command(comp.Binary, comp.Args...)
		if logFile != nil {
			c.Stdout = logFile
			c.Stderr = logFile
		} else {
			c.Stdout = os.Stdout
			c.Stderr = os.Stderr
		}
		c.SysProcAttr = s.buildSysProcAttr(comp)
		if withCgroupFD != nil {
			c.SysProcAttr.UseCgroupFD = true
			c.SysProcAttr.CgroupFD = int(withCgroupFD.Fd())
		}
		return c, c.Start()
	}

	cmd, startErr := startWith(cgroupFD)
	if startErr != nil && cgroupFD != nil {
		// The kernel rejected CLONE_INTO_CGROUP (pre-5.7 kernel, cgroup v1
		// host, or an fd that isn't actually a cgroup directory); fall back
		// to a plain fork and attach the pid afterwards instead of failing
		// the whole start over a resource-limit nicety.
		logging.Warn("Supervisor", "clone into cgroup failed for %q, retrying without it: %v", comp.Name, startErr)
		cgroupFD.Close()
		cgroupFD = nil
		cmd, startErr = startWith(nil)
	}
	if cgroupFD != nil {
		cgroupFD.Close()
	}
	if startErr != nil {
		if logFile != nil {
			logFile.Close()
		}
		logging.Error("Supervisor", startErr, "fork/exec failed for %q", comp.Name)
		return fmt.Errorf("supervisor: start %s: %w", comp.Name, startErr)
	}

	comp.PID = cmd.Process.Pid
	comp.CgroupPath = cgroupPath
	comp.RestartCount++
	comp.LastRestart = now

	// CLONE_INTO_CGROUP wasn't available (opening the cgroup fd failed, or
	// the kernel rejected it above); fall back to attaching the already-
	// running pid so the component still ends up under its declared limits,
	// just a little later than ideal.
	if cgroupPath != "" && cgroupFD == nil {
		if err := s.cgroups.AddProcess(cgroupPath, comp.PID); err != nil {
			logging.Warn("Supervisor", "cgroup attach failed for %q: %v", comp.Name, err)
		}
	}

	// Wait happens off the caller's goroutine; the result is fanned into
	// exits for the event loop to pick up as its child-exit wake (see Exits).
	go func() {
		_ = cmd.Wait()
		if logFile != nil {
			logFile.Close()
		}
		s.exits <- ExitEvent{Comp: comp, State: cmd.ProcessState}
	}()

	if comp.Readiness.Method == component.ReadinessNone {
		comp.State = component.StateActive
		s.registerCapabilities(comp)
	} else {
		comp.State = component.StateReadyWait
		comp.ReadyWaitStart = now
		logging.Info("Supervisor", "component %q waiting for readiness (method=%v, timeout=%s)",
			comp.Name, comp.Readiness.Method, comp.Readiness.Timeout)
	}
	return nil
}

func (s *Supervisor) buildSysProcAttr(comp *component.Component) *syscall.SysProcAttr {
	if s.isolator != nil && len(comp.Isolation.Namespaces) > 0 {
		return s.isolator.SysProcAttr(comp.Isolation)
	}
	return &syscall.SysProcAttr{Setsid: true}
}

// registerCapabilities publishes every capability comp.Provides to the
// registry. Only service-type components do this directly from Start; a
// oneshot registers on successful exit instead (see Exited).
func (s *Supervisor) registerCapabilities(comp *component.Component) {
	if comp.Kind != component.KindService {
		return
	}
	for _, name := range comp.Provides {
		s.caps.Register(name, comp.ID)
		logging.Info("Capability", "capability UP: %s (provided by %s)", name, comp.Name)
	}
}

// Exited records the outcome of a reaped child (component_exited). state is
// the child's os.ProcessState; a nil state counts as an unsuccessful exit.
func (s *Supervisor) Exited(comp *component.Component, state *os.ProcessState) {
	exitedCleanly := state != nil && state.Success()

	if comp.Kind == component.KindOneshot {
		if exitedCleanly {
			comp.State = component.StateOneshotDone
			logging.Info("Supervisor", "oneshot %q completed successfully", comp.Name)
			for _, name := range comp.Provides {
				s.caps.Register(name, comp.ID)
			}
		} else {
			comp.State = component.StateFailed
			logging.Error("Supervisor", nil, "oneshot %q failed (%v)", comp.Name, state)
		}
		comp.PID = 0
		return
	}

	if comp.State == component.StateReadyWait {
		logging.Error("Supervisor", nil, "service %q (pid %d) exited before becoming ready (%v)", comp.Name, comp.PID, state)
	} else {
		logging.Warn("Supervisor", "service %q (pid %d) exited (%v)", comp.Name, comp.PID, state)
	}

	comp.State = component.StateFailed
	comp.PID = 0
	for _, name := range comp.Provides {
		s.caps.Withdraw(name)
	}
}

// Stop sends sig to comp's process if it has one. It does not wait for
// exit; the event loop observes the exit through Exits.
func (s *Supervisor) Stop(comp *component.Component, sig syscall.Signal) error {
	if comp.PID <= 0 {
		return nil
	}
	if err := syscall.Kill(comp.PID, sig); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("supervisor: signal %s (pid %d): %w", comp.Name, comp.PID, err)
	}
	return nil
}

// CheckReadinessTimeout fails comp out of READY_WAIT once it has been
// waiting longer than its configured (or default) timeout, killing the
// still-running process (check_readiness_timeout).
func (s *Supervisor) CheckReadinessTimeout(comp *component.Component, now time.Time) {
	if comp.State != component.StateReadyWait {
		return
	}
	timeout := comp.Readiness.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if now.Sub(comp.ReadyWaitStart) < timeout {
		return
	}
	logging.Error("Supervisor", nil, "component %q readiness timeout after %s", comp.Name, timeout)
	comp.State = component.StateFailed
	if comp.PID > 0 {
		_ = s.Stop(comp, syscall.SIGTERM)
	}
}
