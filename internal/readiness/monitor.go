package readiness

import (
	"context"
	"os"
	"os/exec"
	"syscall"
	"time"

	"graphinit/internal/capability"
	"graphinit/internal/component"
	"graphinit/pkg/logging"
)

const defaultTimeout = 30 * time.Second

// Terminator sends a signal to a component's process. Satisfied by
// *supervisor.Supervisor; kept as an interface to avoid an import cycle
// between readiness and supervisor.
type Terminator interface {
	Stop(comp *component.Component, sig syscall.Signal) error
}

// Monitor is the Readiness Monitor of spec.md §4.4.
type Monitor struct {
	caps *capability.Registry
	term Terminator
}

// New builds a Monitor.
func New(caps *capability.Registry, term Terminator) *Monitor {
	return &Monitor{caps: caps, term: term}
}

// Tick evaluates every component in READY_WAIT against its declared
// predicate, called once per event-loop tick (check_all_readiness).
func (m *Monitor) Tick(comps []*component.Component, now time.Time) {
	for _, comp := range comps {
		if comp.State != component.StateReadyWait {
			continue
		}
		if m.checkTimeout(comp, now); comp.State != component.StateReadyWait {
			continue
		}
		if m.evaluate(comp) {
			m.markReady(comp, now)
		}
	}
}

func (m *Monitor) checkTimeout(comp *component.Component, now time.Time) {
	timeout := comp.Readiness.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if now.Sub(comp.ReadyWaitStart) < timeout {
		return
	}
	logging.Error("Readiness", nil, "component %q readiness timeout after %s", comp.Name, timeout)
	comp.State = component.StateFailed
	if comp.PID > 0 && m.term != nil {
		_ = m.term.Stop(comp, syscall.SIGTERM)
	}
}

func (m *Monitor) evaluate(comp *component.Component) bool {
	switch comp.Readiness.Method {
	case component.ReadinessFile:
		return m.checkFile(comp)
	case component.ReadinessCommand:
		return m.checkCommand(comp)
	case component.ReadinessSignal:
		// Signal-based readiness is driven by the event loop's signal
		// handler calling MarkReady directly, not by polling here.
		return false
	case component.ReadinessNone:
		logging.Warn("Readiness", "component %q in READY_WAIT with readiness method none", comp.Name)
		return true
	default:
		return false
	}
}

func (m *Monitor) checkFile(comp *component.Component) bool {
	if comp.Readiness.Path == "" {
		return false
	}
	if _, err := os.Stat(comp.Readiness.Path); err != nil {
		return false
	}
	logging.Info("Readiness", "component %q readiness file detected: %s", comp.Name, comp.Readiness.Path)
	return true
}

func (m *Monitor) checkCommand(comp *component.Component) bool {
	if comp.Readiness.Command == "" {
		return false
	}
	timeout := comp.Readiness.CommandTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", comp.Readiness.Command)
	if err := cmd.Run(); err != nil {
		return false
	}
	logging.Info("Readiness", "component %q readiness check passed: %s", comp.Name, comp.Readiness.Command)
	return true
}

// MarkReady transitions comp out of READY_WAIT, exactly like component_ready:
// a no-op (with a warning) outside READY_WAIT, ACTIVE plus capability
// publication for service-kind components otherwise. The event loop's
// signal handler calls this directly for ReadinessSignal components.
func (m *Monitor) MarkReady(comp *component.Component, now time.Time) {
	if comp.State != component.StateReadyWait {
		logging.Warn("Readiness", "component %q signaled ready but not in READY_WAIT (state=%s)", comp.Name, comp.State)
		return
	}
	m.markReady(comp, now)
}

func (m *Monitor) markReady(comp *component.Component, now time.Time) {
	waited := now.Sub(comp.ReadyWaitStart)
	logging.Info("Readiness", "component %q is ready (waited %s)", comp.Name, waited)
	comp.State = component.StateActive

	if comp.Kind == component.KindService {
		for _, name := range comp.Provides {
			m.caps.Register(name, comp.ID)
			logging.Info("Capability", "capability UP: %s (provided by %s)", name, comp.Name)
		}
	}
}
