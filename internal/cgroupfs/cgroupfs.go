package cgroupfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"graphinit/internal/component"
	"graphinit/pkg/logging"
)

// DefaultRoot is the standard cgroup v2 unified hierarchy mount point.
const DefaultRoot = "/sys/fs/cgroup"

// Manager creates per-component cgroups under Root and applies the limits
// declared in component.CgroupLimits. It satisfies supervisor.CgroupAttacher.
type Manager struct {
	Root string
}

// New builds a Manager rooted at root. An empty root defaults to DefaultRoot.
func New(root string) *Manager {
	if root == "" {
		root = DefaultRoot
	}
	return &Manager{Root: root}
}

func (m *Manager) path(comp *component.Component) string {
	if comp.Cgroup.Subpath != "" {
		return filepath.Join(m.Root, comp.Cgroup.Subpath)
	}
	return filepath.Join(m.Root, "graphinit", comp.Name)
}

// Create makes comp's cgroup directory and writes its declared limits,
// returning the cgroup's path.
func (m *Manager) Create(comp *component.Component) (string, error) {
	path := m.path(comp)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("cgroupfs: mkdir %s: %w", path, err)
	}

	limits := comp.Cgroup
	writes := map[string]string{}
	if limits.MemoryMax > 0 {
		writes["memory.max"] = strconv.FormatInt(limits.MemoryMax, 10)
	}
	if limits.MemoryHigh > 0 {
		writes["memory.high"] = strconv.FormatInt(limits.MemoryHigh, 10)
	}
	if limits.CPUWeight > 0 {
		writes["cpu.weight"] = strconv.Itoa(limits.CPUWeight)
	}
	if limits.CPUMax != "" {
		writes["cpu.max"] = limits.CPUMax
	}
	if limits.IOWeight > 0 {
		writes["io.weight"] = strconv.Itoa(limits.IOWeight)
	}
	if limits.PidsMax > 0 {
		writes["pids.max"] = strconv.FormatInt(limits.PidsMax, 10)
	}

	for file, value := range writes {
		if err := os.WriteFile(filepath.Join(path, file), []byte(value), 0o644); err != nil {
			logging.Warn("Cgroup", "component %q: failed to write %s=%s: %v", comp.Name, file, value, err)
		}
	}
	return path, nil
}

// AddProcess moves pid into the cgroup at path by writing cgroup.procs. Used
// as a fallback when the supervisor could not place the child into the
// cgroup at clone time via Open's fd (see Open).
func (m *Manager) AddProcess(path string, pid int) error {
	target := filepath.Join(path, "cgroup.procs")
	if err := os.WriteFile(target, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("cgroupfs: attach pid %d to %s: %w", pid, target, err)
	}
	return nil
}

// Open returns an open file descriptor on the cgroup directory at path, for
// the supervisor to pass as SysProcAttr.CgroupFD so the kernel places the
// child into the cgroup at clone(2) time (CLONE_INTO_CGROUP) rather than
// after it is already running. The caller owns the returned file and must
// close it once the child has started.
func (m *Manager) Open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cgroupfs: open %s: %w", path, err)
	}
	return f, nil
}

// Destroy removes a component's cgroup directory (the kernel refuses
// rmdir while processes remain attached, so callers should only call this
// after the component has exited).
func (m *Manager) Destroy(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cgroupfs: destroy %s: %w", path, err)
	}
	return nil
}

// OOMKillCount reads the oom_kill counter out of path's memory.events file,
// used by the event loop's periodic cgroup OOM-event poll (spec.md §4.12).
func OOMKillCount(path string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(path, "memory.events"))
	if err != nil {
		return 0, fmt.Errorf("cgroupfs: read memory.events: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "oom_kill" {
			n, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("cgroupfs: parse oom_kill counter: %w", err)
			}
			return n, nil
		}
	}
	return 0, nil
}

// Poller tracks the last-seen oom_kill count per cgroup path so the event
// loop can detect new OOM kills on each tick without re-reading history.
type Poller struct {
	last map[string]int64
}

// NewPoller returns an empty Poller.
func NewPoller() *Poller {
	return &Poller{last: make(map[string]int64)}
}

// Poll returns true if path's oom_kill counter increased since the last
// call for that path.
func (p *Poller) Poll(path string) (newKill bool, err error) {
	count, err := OOMKillCount(path)
	if err != nil {
		return false, err
	}
	prev := p.last[path]
	p.last[path] = count
	return count > prev, nil
}
