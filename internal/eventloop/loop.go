package eventloop

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"graphinit/internal/capability"
	"graphinit/internal/checkpoint"
	"graphinit/internal/cgroupfs"
	"graphinit/internal/component"
	"graphinit/internal/config"
	"graphinit/internal/control"
	"graphinit/internal/graph"
	"graphinit/internal/health"
	"graphinit/internal/kexec"
	"graphinit/internal/readiness"
	"graphinit/internal/resolver"
	"graphinit/internal/supervisor"
	"graphinit/internal/upgrade"
	"graphinit/pkg/logging"
)

// shutdownGrace is how long graceful shutdown waits for managed processes
// to exit before escalating to SIGKILL (spec.md §4.12).
const shutdownGrace = 5 * time.Second

// tickInterval is the periodic wake driving readiness/health/cgroup polling.
const tickInterval = 1 * time.Second

// Config names every filesystem location the loop needs.
type Config struct {
	DeclDir       string
	LogDir        string
	ControlSocket string
}

// Loop is the Event Loop of spec.md §4.12.
type Loop struct {
	cfg Config

	table      *component.Table
	caps       *capability.Registry
	sup        *supervisor.Supervisor
	readiness  *readiness.Monitor
	health     *health.Monitor
	resolver   *resolver.Resolver
	upgrade    *upgrade.Coordinator
	kexecCoord *kexec.Coordinator
	store      *checkpoint.Store
	engine     checkpoint.Engine
	cgroupPoll *cgroupfs.Poller
	ctl        *control.Server
}

// New builds a Loop from its fully-wired subsystems. engine may be nil, in
// which case the control channel's checkpoint/restore commands report the
// engine as unsupported rather than panicking.
func New(
	cfg Config,
	table *component.Table,
	caps *capability.Registry,
	sup *supervisor.Supervisor,
	readinessMon *readiness.Monitor,
	healthMon *health.Monitor,
	res *resolver.Resolver,
	upg *upgrade.Coordinator,
	kx *kexec.Coordinator,
	store *checkpoint.Store,
	engine checkpoint.Engine,
	ctl *control.Server,
) *Loop {
	return &Loop{
		cfg:        cfg,
		table:      table,
		caps:       caps,
		sup:        sup,
		readiness:  readinessMon,
		health:     healthMon,
		resolver:   res,
		upgrade:    upg,
		kexecCoord: kx,
		store:      store,
		engine:     engine,
		cgroupPoll: cgroupfs.NewPoller(),
		ctl:        ctl,
	}
}

// Run drives the loop until a graceful shutdown signal arrives or ctx is
// cancelled: nil after a graceful shutdown, ctx.Err() on cancellation. It
// also returns early with an error if the declaration-directory watcher
// cannot be created; cmd/graphinit answers any non-nil return with its
// emergencyFallback.
func (l *Loop) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(l.cfg.DeclDir); err != nil {
		logging.Warn("EventLoop", "cannot watch declaration directory %s: %v", l.cfg.DeclDir, err)
	}

	go l.ctl.Serve()
	defer l.ctl.Close()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	l.reload()
	l.resolver.ResolveFull(l.table.All(), time.Now())

	for {
		// Child-exit wakes take priority over control requests within the
		// same iteration (spec.md §5): drain whatever already arrived
		// before blocking in the multiplexed select below.
		changed := l.drainExits()

		select {
		case <-ctx.Done():
			l.Shutdown()
			return ctx.Err()

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				l.Shutdown()
				return nil
			case syscall.SIGUSR1:
				l.reload()
				changed = true
			case syscall.SIGUSR2:
				l.dumpState()
			}

		case ev := <-l.sup.Exits():
			l.sup.Exited(ev.Comp, ev.State)
			changed = true

		case fsEv, ok := <-watcher.Events:
			if ok && isDeclChange(fsEv) {
				l.reload()
				changed = true
			}

		case werr, ok := <-watcher.Errors:
			if ok {
				logging.Warn("EventLoop", "declaration watcher error: %v", werr)
			}

		case req := <-l.ctl.Requests():
			req.Reply(control.Dispatch(l, req.Line))

		case now := <-ticker.C:
			l.readiness.Tick(l.table.All(), now)
			l.health.Tick(l.table.All(), now)
			for _, comp := range l.table.All() {
				l.sup.CheckReadinessTimeout(comp, now)
			}
			l.pollCgroups()
			changed = true
		}

		if changed {
			l.resolver.ResolveFull(l.table.All(), time.Now())
		}
	}
}

func (l *Loop) drainExits() bool {
	changed := false
	for {
		select {
		case ev := <-l.sup.Exits():
			l.sup.Exited(ev.Comp, ev.State)
			changed = true
		default:
			return changed
		}
	}
}

func isDeclChange(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	return len(ev.Name) > len(".toml") && ev.Name[len(ev.Name)-len(".toml"):] == ".toml"
}

// reload rebuilds the Component Table from the declaration directory,
// preserving runtime fields for name-matched components (spec.md §4.2). A
// reload that would introduce a dependency cycle is rejected: the warning is
// logged and the prior, acyclic snapshot is kept running untouched (spec.md
// §7, §8 scenario 5).
func (l *Loop) reload() {
	decls, errs := config.Load(l.cfg.DeclDir)
	for _, e := range errs {
		logging.Warn("EventLoop", "declaration error: %v", e)
	}

	candidate := l.table.CandidateComponents(decls)
	if cyc, found := graph.Build(candidate).DetectCycle(); found {
		logging.Warn("EventLoop", "reload from %s would introduce a dependency cycle (%s), keeping previous graph", l.cfg.DeclDir, cyc)
		return
	}

	l.table.Rebuild(decls)
	logging.Info("EventLoop", "reloaded %d declarations from %s", len(decls), l.cfg.DeclDir)
}

func (l *Loop) dumpState() {
	logging.Audit(logging.AuditEvent{Action: "state-dump", Outcome: "success", Details: l.Status(), At: time.Now()})
}

func (l *Loop) pollCgroups() {
	for _, comp := range l.table.All() {
		if comp.CgroupPath == "" {
			continue
		}
		killed, err := l.cgroupPoll.Poll(comp.CgroupPath)
		if err != nil {
			continue
		}
		if killed {
			logging.Error("EventLoop", nil, "component %q: OOM kill detected in cgroup %s", comp.Name, comp.CgroupPath)
		}
	}
}

// Shutdown sends terminate to every managed process, waits shutdownGrace for
// exit, then force-kills survivors (spec.md §4.12 graceful shutdown).
func (l *Loop) Shutdown() {
	logging.Info("EventLoop", "graceful shutdown: terminating managed processes")
	for _, comp := range l.table.All() {
		if comp.Name == component.KernelComponentName || comp.PID <= 0 {
			continue
		}
		_ = l.sup.Stop(comp, syscall.SIGTERM)
	}

	deadline := time.Now().Add(shutdownGrace)
	for time.Now().Before(deadline) {
		if !l.anyAlive() {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	for _, comp := range l.table.All() {
		if comp.PID > 0 && processAlive(comp.PID) {
			logging.Warn("EventLoop", "component %q did not exit within %s, killing", comp.Name, shutdownGrace)
			_ = syscall.Kill(comp.PID, syscall.SIGKILL)
		}
	}
}

func (l *Loop) anyAlive() bool {
	for _, comp := range l.table.All() {
		if comp.PID > 0 && processAlive(comp.PID) {
			return true
		}
	}
	return false
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// graphOf builds the induced dependency graph from the current table
// snapshot, fresh on every call (internal/graph.Build is cheap and meant to
// be rebuilt rather than kept incrementally in sync).
func (l *Loop) graphOf() *graph.Graph {
	return graph.Build(l.table.All())
}
