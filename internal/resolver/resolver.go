package resolver

import (
	"syscall"
	"time"

	"graphinit/internal/capability"
	"graphinit/internal/component"
	"graphinit/pkg/logging"
)

// restartCooldown is the minimum time a FAILED component must wait before
// the resolver will flip it back to INACTIVE for a restart attempt.
const restartCooldown = 5 * time.Second

// Starter launches a component's process. Satisfied by
// *supervisor.Supervisor.
type Starter interface {
	Start(comp *component.Component) error
	Stop(comp *component.Component, sig syscall.Signal) error
}

// Resolver is the Resolver of spec.md §4.7. It holds no state between
// passes; everything it needs is passed to Resolve/ResolveFull.
type Resolver struct {
	caps *capability.Registry
	sup  Starter
}

// New builds a Resolver.
func New(caps *capability.Registry, sup Starter) *Resolver {
	return &Resolver{caps: caps, sup: sup}
}

// RequirementsMet reports whether every capability comp.Requires lists is
// currently active.
func RequirementsMet(caps *capability.Registry, comp *component.Component) bool {
	for _, name := range comp.Requires {
		if !caps.Active(name) {
			return false
		}
	}
	return true
}

// Resolve makes one pass over comps, returning whether any transition
// occurred.
func (r *Resolver) Resolve(comps []*component.Component, now time.Time) bool {
	changed := false
	for _, comp := range comps {
		if comp.Name == component.KernelComponentName {
			continue
		}
		if r.resolveOne(comp, now) {
			changed = true
		}
	}
	return changed
}

func (r *Resolver) resolveOne(comp *component.Component, now time.Time) bool {
	met := RequirementsMet(r.caps, comp)

	switch comp.State {
	case component.StateInactive:
		if !met {
			return false
		}
		if err := r.sup.Start(comp); err != nil {
			logging.Warn("Resolver", "start failed for %q: %v", comp.Name, err)
			return false
		}
		return true

	case component.StateReadyWait:
		if met {
			return false
		}
		logging.Warn("Resolver", "component %q lost requirements while READY_WAIT, failing", comp.Name)
		comp.State = component.StateFailed
		if comp.PID > 0 {
			_ = r.sup.Stop(comp, syscall.SIGTERM)
		}
		return true

	case component.StateActive:
		if met {
			return false
		}
		logging.Warn("Resolver", "component %q lost requirements while ACTIVE, failing", comp.Name)
		comp.State = component.StateFailed
		for _, name := range comp.Provides {
			r.caps.Withdraw(name)
		}
		return true

	case component.StateFailed:
		if !met {
			return false
		}
		if now.Sub(comp.LastRestart) < restartCooldown {
			return false
		}
		comp.State = component.StateInactive
		return true

	default:
		return false
	}
}

// ResolveFull calls Resolve until a pass reports no changes, or until the
// iteration count exceeds 2x the component count (logged as a bug: a
// well-formed graph always converges well before that bound).
func (r *Resolver) ResolveFull(comps []*component.Component, now time.Time) {
	limit := 2 * len(comps)
	if limit == 0 {
		limit = 1
	}
	for i := 0; i < limit; i++ {
		if !r.Resolve(comps, now) {
			return
		}
	}
	logging.Error("Resolver", nil, "resolve_full exceeded %d iterations without converging, likely a graph bug", limit)
}
