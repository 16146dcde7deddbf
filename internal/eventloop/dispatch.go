package eventloop

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"graphinit/internal/checkpoint"
	"graphinit/internal/component"
	"graphinit/internal/config"
	"graphinit/internal/kexec"
)

// Loop implements control.Dependencies, translating the control-channel
// grammar (spec.md §6) into calls against the live Component Table,
// Capability Registry, graph, resolver, checkpoint store, upgrade
// coordinator and kernel-transition coordinator. Dispatch runs on the loop
// thread (see control.Server), so every method here may mutate state
// directly without locking.

func (l *Loop) Status() string {
	var b strings.Builder
	for _, c := range l.table.All() {
		fmt.Fprintf(&b, "%s state=%s pid=%d kind=%s restarts=%d\n", c.Name, c.State, c.PID, c.Kind, c.RestartCount)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (l *Loop) Capabilities() string {
	var b strings.Builder
	for _, cap := range l.caps.All() {
		fmt.Fprintf(&b, "%s active=%t degraded=%t provider=%d\n", cap.Name, cap.Active, cap.Degraded, cap.Provider)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (l *Loop) Tree(name string) (string, error) {
	comp := l.table.ByName(name)
	if comp == nil {
		return "", fmt.Errorf("no such component: %s", name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n  provides: %s\n  requires: %s\n", comp.Name, strings.Join(comp.Provides, ", "), strings.Join(comp.Requires, ", "))
	deps := l.graphOf().Dependents(name)
	fmt.Fprintf(&b, "  dependents: %s", strings.Join(deps, ", "))
	return b.String(), nil
}

func (l *Loop) ReverseDeps(capName string) (string, error) {
	var out []string
	for _, c := range l.table.All() {
		for _, req := range c.Requires {
			if req == capName {
				out = append(out, c.Name)
				break
			}
		}
	}
	if len(out) == 0 {
		return fmt.Sprintf("no component requires %q", capName), nil
	}
	return strings.Join(out, "\n"), nil
}

func (l *Loop) SimulateRemove(name string) (string, error) {
	comp := l.table.ByName(name)
	if comp == nil {
		return "", fmt.Errorf("no such component: %s", name)
	}
	affected := l.graphOf().Dependents(name)
	if len(affected) == 0 {
		return fmt.Sprintf("removing %q would affect no other component", name), nil
	}
	return fmt.Sprintf("removing %q would affect: %s", name, strings.Join(affected, ", ")), nil
}

func (l *Loop) DOT() string {
	return l.graphOf().DOT()
}

func (l *Loop) Log(name string, lines int) (string, error) {
	path := filepath.Join(l.cfg.LogDir, name+".log")
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open log for %s: %w", name, err)
	}
	defer f.Close()

	var all []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		all = append(all, scanner.Text())
	}
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	return strings.Join(all, "\n"), nil
}

func (l *Loop) Readiness() string {
	var b strings.Builder
	now := time.Now()
	for _, c := range l.table.All() {
		if c.State != component.StateReadyWait {
			continue
		}
		fmt.Fprintf(&b, "%s waiting=%s method=%v\n", c.Name, now.Sub(c.ReadyWaitStart).Round(time.Second), c.Readiness.Method)
	}
	if b.Len() == 0 {
		return "no components are in READY_WAIT"
	}
	return strings.TrimRight(b.String(), "\n")
}

func (l *Loop) CheckReadiness(name string) (string, error) {
	comps := l.table.All()
	if name != "" {
		comp := l.table.ByName(name)
		if comp == nil {
			return "", fmt.Errorf("no such component: %s", name)
		}
		comps = []*component.Component{comp}
	}
	l.readiness.Tick(comps, time.Now())
	l.resolver.ResolveFull(l.table.All(), time.Now())
	return l.Status(), nil
}

func (l *Loop) Upgrade(name string) (string, error) {
	comp := l.table.ByName(name)
	if comp == nil {
		return "", fmt.Errorf("no such component: %s", name)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := l.upgrade.Upgrade(ctx, comp); err != nil {
		return "", err
	}
	l.resolver.ResolveFull(l.table.All(), time.Now())
	return fmt.Sprintf("%s upgraded, new pid %d", name, comp.PID), nil
}

func (l *Loop) Checkpoint(name string) (string, error) {
	if l.engine == nil || !l.engine.IsSupported() {
		return "", fmt.Errorf("checkpoint engine not supported on this host")
	}
	comp := l.table.ByName(name)
	if comp == nil {
		return "", fmt.Errorf("no such component: %s", name)
	}
	if comp.PID <= 0 {
		return "", fmt.Errorf("component %q has no running process to checkpoint", name)
	}
	id, dir, err := l.store.CreateDir(name, true)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := l.engine.Checkpoint(ctx, comp.PID, dir, true); err != nil {
		_ = l.store.Remove(name, id, true)
		return "", err
	}
	major, minor, patch := l.engine.Version()
	meta := checkpoint.Metadata{
		ComponentName: name,
		OriginalPID:   comp.PID,
		Timestamp:     time.Now().Unix(),
		Capabilities:  strings.Join(comp.Provides, ","),
		EngineVersion: checkpoint.EngineVersion{Major: major, Minor: minor, Patch: patch},
		LeaveRunning:  true,
	}
	if err := checkpoint.SaveMetadata(dir, meta); err != nil {
		return "", err
	}
	return fmt.Sprintf("checkpoint %s/%s created", name, id), nil
}

func (l *Loop) Restore(name, id string) (string, error) {
	if l.engine == nil || !l.engine.IsSupported() {
		return "", fmt.Errorf("checkpoint engine not supported on this host")
	}
	comp := l.table.ByName(name)
	if comp == nil {
		return "", fmt.Errorf("no such component: %s", name)
	}
	if id == "" {
		found, ok, err := l.store.FindLatest(name, true)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("no checkpoint found for %s", name)
		}
		id = found
	}
	dir := filepath.Join(l.store.PersistentRoot, name, id)
	if err := checkpoint.ValidateImageDir(dir); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pid, err := l.engine.Restore(ctx, dir)
	if err != nil {
		return "", err
	}
	comp.PID = pid
	comp.State = component.StateActive
	for _, capName := range comp.Provides {
		l.caps.Register(capName, comp.ID)
	}
	return fmt.Sprintf("%s restored from %s, pid %d", name, id, pid), nil
}

func (l *Loop) CheckpointList(name string) (string, error) {
	entries, err := l.store.List(name, true)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "no checkpoints found", nil
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s/%s  original_pid=%d  timestamp=%d\n", e.Component, e.ID, e.Metadata.OriginalPID, e.Metadata.Timestamp)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (l *Loop) CheckpointRemove(name, id string) (string, error) {
	if err := l.store.Remove(name, id, true); err != nil {
		return "", err
	}
	return fmt.Sprintf("checkpoint %s/%s removed", name, id), nil
}

func (l *Loop) Migrate(name string) (string, error) {
	id, ok, err := l.store.FindLatest(name, false)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("no ephemeral checkpoint found for %s", name)
	}
	dst, err := l.store.MigrateToPersistent(name, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("migrated %s/%s to %s", name, id, dst), nil
}

func (l *Loop) CheckCycles() (string, error) {
	cyc, found := l.graphOf().DetectCycle()
	if !found {
		return "no cycles", nil
	}
	return "cycle: " + cyc.String(), nil
}

func (l *Loop) Analyze() (string, error) {
	active, degraded, failed := 0, 0, 0
	for _, c := range l.table.All() {
		switch c.State {
		case component.StateActive:
			active++
		case component.StateDegraded:
			degraded++
		case component.StateFailed:
			failed++
		}
	}
	_, cyclic := l.graphOf().DetectCycle()
	return fmt.Sprintf("components=%d active=%d degraded=%d failed=%d capabilities=%d cycles=%t",
		l.table.Len(), active, degraded, failed, l.caps.Count(), cyclic), nil
}

func (l *Loop) Validate() (string, error) {
	_, errs := config.Load(l.cfg.DeclDir)
	if len(errs) == 0 {
		return "all declarations valid", nil
	}
	var b strings.Builder
	for _, e := range errs {
		fmt.Fprintf(&b, "%v\n", e)
	}
	return strings.TrimRight(b.String(), "\n"), fmt.Errorf("%d declaration error(s)", len(errs))
}

func (l *Loop) Path(capA, capB string) (string, error) {
	path, ok := l.graphOf().Path(capA, capB)
	if !ok {
		return "", fmt.Errorf("no path from %q to %q", capA, capB)
	}
	return strings.Join(path, " -> "), nil
}

func (l *Loop) SCC() (string, error) {
	sccs := l.graphOf().StronglyConnectedComponents()
	if len(sccs) == 0 {
		return "no strongly connected components larger than one node", nil
	}
	var b strings.Builder
	for _, group := range sccs {
		fmt.Fprintf(&b, "%s\n", strings.Join(group, ", "))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (l *Loop) Kexec(dryRun bool, kernelPath, initrdPath, cmdline string) (string, error) {
	opts := kexec.Options{KernelPath: kernelPath, InitrdPath: initrdPath, Cmdline: cmdline, DryRun: dryRun}
	if err := l.kexecCoord.Perform(context.Background(), opts); err != nil {
		return "", err
	}
	return "kexec transition requested", nil
}
