package health

import (
	"context"
	"os/exec"
	"syscall"
	"time"

	"graphinit/internal/capability"
	"graphinit/internal/component"
	"graphinit/pkg/logging"
)

// Terminator sends a signal to a component's process. Satisfied by
// *supervisor.Supervisor.
type Terminator interface {
	Stop(comp *component.Component, sig syscall.Signal) error
}

// Monitor is the Health Monitor of spec.md §4.5.
type Monitor struct {
	caps *capability.Registry
	term Terminator
}

// New builds a Monitor.
func New(caps *capability.Registry, term Terminator) *Monitor {
	return &Monitor{caps: caps, term: term}
}

// Tick probes every ACTIVE or DEGRADED component with a due health check.
// A check is due when it has never run or when its interval (default 60s)
// has elapsed since LastHealthCheck; components not yet due are skipped.
func (m *Monitor) Tick(comps []*component.Component, now time.Time) {
	for _, comp := range comps {
		if !comp.Health.Enabled {
			continue
		}
		if comp.State != component.StateActive && comp.State != component.StateDegraded {
			continue
		}
		if !due(comp, now) {
			continue
		}
		comp.LastHealthCheck = now
		m.probe(comp, now)
	}
}

func due(comp *component.Component, now time.Time) bool {
	interval := comp.Health.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return comp.LastHealthCheck.IsZero() || now.Sub(comp.LastHealthCheck) >= interval
}

func (m *Monitor) probe(comp *component.Component, now time.Time) {
	pass := m.runCheck(comp)
	switch comp.State {
	case component.StateActive:
		if pass {
			comp.ConsecutiveHealthFailed = 0
			return
		}
		m.fail(comp, now)
	case component.StateDegraded:
		if pass {
			comp.ConsecutiveHealthFailed = 0
			comp.State = component.StateActive
			for _, name := range comp.Provides {
				m.caps.MarkDegraded(name, false)
			}
			logging.Info("Health", "component %q recovered, ACTIVE", comp.Name)
			return
		}
		m.fail(comp, now)
	}
}

func (m *Monitor) fail(comp *component.Component, now time.Time) {
	comp.ConsecutiveHealthFailed++
	threshold := comp.Health.FailureThreshold
	if threshold <= 0 {
		threshold = 3
	}
	restartThreshold := comp.Health.RestartThreshold
	if restartThreshold <= 0 {
		restartThreshold = 5
	}

	switch comp.State {
	case component.StateActive:
		if comp.ConsecutiveHealthFailed < threshold {
			return
		}
		comp.State = component.StateDegraded
		for _, name := range comp.Provides {
			m.caps.MarkDegraded(name, true)
		}
		logging.Warn("Health", "component %q DEGRADED after %d consecutive failures", comp.Name, comp.ConsecutiveHealthFailed)
	case component.StateDegraded:
		if comp.ConsecutiveHealthFailed < restartThreshold {
			return
		}
		comp.State = component.StateFailed
		comp.ConsecutiveHealthFailed = 0
		for _, name := range comp.Provides {
			m.caps.Withdraw(name)
		}
		logging.Error("Health", nil, "component %q FAILED after exceeding restart threshold, terminating", comp.Name)
		if comp.PID > 0 && m.term != nil {
			_ = m.term.Stop(comp, syscall.SIGTERM)
		}
	}
}

func (m *Monitor) runCheck(comp *component.Component) bool {
	timeout := comp.Health.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", comp.Health.Command)
	err := cmd.Run()
	if ctx.Err() != nil {
		// A timeout counts as a failure regardless of the exit status
		// (spec.md §4.5: "Timeout on the health command counts as a failure").
		return false
	}
	return err == nil
}
