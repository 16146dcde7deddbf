package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"graphinit/internal/component"
	"graphinit/pkg/logging"
)

const (
	defaultReadinessTimeout = 30 * time.Second
	defaultCommandTimeout   = 5 * time.Second
	defaultHealthInterval   = 60 * time.Second
	defaultHealthTimeout    = 10 * time.Second
	defaultFailureThreshold = 3
	defaultRestartThreshold = 5
)

// componentFile is the raw shape of a *.toml declaration (spec.md §6).
type componentFile struct {
	Component struct {
		Name   string   `toml:"name"`
		Binary string   `toml:"binary"`
		Type   string   `toml:"type"`
		Args   []string `toml:"args"`
	} `toml:"component"`

	Provides struct {
		Capabilities []string `toml:"capabilities"`
	} `toml:"provides"`

	Requires struct {
		Capabilities []string `toml:"capabilities"`
	} `toml:"requires"`

	Optional struct {
		Capabilities []string `toml:"capabilities"`
	} `toml:"optional"`

	Lifecycle struct {
		ReloadSignal      string `toml:"reload-signal"`
		Handoff           string `toml:"handoff"`
		HealthCheck       string `toml:"health-check"`
		HealthInterval    string `toml:"health-interval"`
		HealthTimeout     string `toml:"health-timeout"`
		FailureThreshold  int    `toml:"failure-threshold"`
		RestartThreshold  int    `toml:"restart-threshold"`
		ReadinessFile     string `toml:"readiness-file"`
		ReadinessCheck    string `toml:"readiness-check"`
		ReadinessSignal   string `toml:"readiness-signal"`
		ReadinessTimeout  string `toml:"readiness-timeout"`
		ReadinessInterval string `toml:"readiness-interval"`
	} `toml:"lifecycle"`

	Resources struct {
		Cgroup string `toml:"cgroup"`
		Memory struct {
			Max  string `toml:"max"`
			High string `toml:"high"`
		} `toml:"memory"`
		CPU struct {
			Weight int    `toml:"weight"`
			Max    string `toml:"max"`
		} `toml:"cpu"`
		IO struct {
			Weight int `toml:"weight"`
		} `toml:"io"`
		Pids struct {
			Max int64 `toml:"max"`
		} `toml:"pids"`
	} `toml:"resources"`

	Isolation struct {
		Namespaces string `toml:"namespaces"`
		Root       string `toml:"root"`
		Hostname   string `toml:"hostname"`
	} `toml:"isolation"`

	Checkpoint struct {
		Enabled        bool     `toml:"enabled"`
		PreserveFDs    []string `toml:"preserve-fds"`
		LeaveRunning   bool     `toml:"leave-running"`
		MemoryEstimate string   `toml:"memory-estimate"`
		MaxAgeHours    int      `toml:"max-age"`
	} `toml:"checkpoint"`
}

// Load reads every *.toml file directly under dir and returns the decoded
// declarations plus any per-file errors encountered (spec.md §7: one bad
// file never blocks the rest).
func Load(dir string) ([]component.Declaration, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("read declaration directory %s: %w", dir, err)}
	}

	var decls []component.Declaration
	var errs []error
	seen := make(map[string]bool)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		decl, err := loadOne(path)
		if err != nil {
			errs = append(errs, err)
			logging.Warn("ConfigLoader", "skipping %s: %v", path, err)
			continue
		}
		if seen[decl.Name] {
			errs = append(errs, &DeclarationError{File: path, Kind: ErrDuplicateName, Err: fmt.Errorf("duplicate component name %q", decl.Name)})
			continue
		}
		seen[decl.Name] = true
		decls = append(decls, decl)
	}
	return decls, errs
}

func loadOne(path string) (component.Declaration, error) {
	var raw componentFile
	md, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return component.Declaration{}, &DeclarationError{File: path, Kind: ErrParse, Err: err}
	}
	for _, key := range md.Undecoded() {
		if len(key) == 1 && md.Type(key...) == "Hash" {
			return component.Declaration{}, &DeclarationError{File: path, Kind: ErrUnknownSection, Err: fmt.Errorf("unknown section [%s]", key[0])}
		}
	}

	if raw.Component.Name == "" {
		return component.Declaration{}, &DeclarationError{File: path, Kind: ErrMissingName, Err: fmt.Errorf("[component].name is required")}
	}
	if raw.Component.Binary == "" {
		return component.Declaration{}, &DeclarationError{File: path, Kind: ErrMissingBinary, Err: fmt.Errorf("[component].binary is required")}
	}

	decl := component.Declaration{
		Name:         raw.Component.Name,
		Binary:       raw.Component.Binary,
		Args:         raw.Component.Args,
		Kind:         component.KindService,
		Provides:     raw.Provides.Capabilities,
		Requires:     raw.Requires.Capabilities,
		Optional:     raw.Optional.Capabilities,
		ReloadSignal: raw.Lifecycle.ReloadSignal,
	}
	if raw.Component.Type == "oneshot" {
		decl.Kind = component.KindOneshot
	}

	if err := decodeReadiness(&decl, raw); err != nil {
		return component.Declaration{}, &DeclarationError{File: path, Kind: ErrInvalidLimit, Err: err}
	}
	decodeHealth(&decl, raw)
	if err := decodeResources(&decl, raw); err != nil {
		return component.Declaration{}, &DeclarationError{File: path, Kind: ErrInvalidLimit, Err: err}
	}
	decodeIsolation(&decl, raw)
	if err := decodeCheckpoint(&decl, raw); err != nil {
		return component.Declaration{}, &DeclarationError{File: path, Kind: ErrInvalidLimit, Err: err}
	}
	decodeHandoff(&decl, raw)

	return decl, nil
}

func decodeReadiness(decl *component.Declaration, raw componentFile) error {
	r := component.ReadinessSpec{Timeout: defaultReadinessTimeout, CommandTimeout: defaultCommandTimeout}
	switch {
	case raw.Lifecycle.ReadinessFile != "":
		r.Method = component.ReadinessFile
		r.Path = raw.Lifecycle.ReadinessFile
	case raw.Lifecycle.ReadinessCheck != "":
		r.Method = component.ReadinessCommand
		r.Command = raw.Lifecycle.ReadinessCheck
	case raw.Lifecycle.ReadinessSignal != "":
		r.Method = component.ReadinessSignal
		r.SignalName = raw.Lifecycle.ReadinessSignal
	default:
		r.Method = component.ReadinessNone
	}

	if raw.Lifecycle.ReadinessTimeout != "" {
		d, err := time.ParseDuration(raw.Lifecycle.ReadinessTimeout)
		if err != nil {
			return fmt.Errorf("invalid readiness-timeout %q: %w", raw.Lifecycle.ReadinessTimeout, err)
		}
		if d <= 0 {
			// spec.md §8: "Readiness timeout equal to zero is treated as the default 30s."
			d = defaultReadinessTimeout
		}
		r.Timeout = d
	}
	decl.Readiness = r
	return nil
}

func decodeHealth(decl *component.Declaration, raw componentFile) {
	if raw.Lifecycle.HealthCheck == "" {
		return
	}
	h := component.HealthSpec{
		Enabled:          true,
		Command:          raw.Lifecycle.HealthCheck,
		Interval:         defaultHealthInterval,
		Timeout:          defaultHealthTimeout,
		FailureThreshold: defaultFailureThreshold,
		RestartThreshold: defaultRestartThreshold,
	}
	if d, err := time.ParseDuration(raw.Lifecycle.HealthInterval); err == nil && d > 0 {
		h.Interval = d
	}
	if d, err := time.ParseDuration(raw.Lifecycle.HealthTimeout); err == nil && d > 0 {
		h.Timeout = d
	}
	if raw.Lifecycle.FailureThreshold > 0 {
		h.FailureThreshold = raw.Lifecycle.FailureThreshold
	}
	if raw.Lifecycle.RestartThreshold > 0 {
		h.RestartThreshold = raw.Lifecycle.RestartThreshold
	}
	decl.Health = h
}

func decodeResources(decl *component.Declaration, raw componentFile) error {
	limits := component.CgroupLimits{
		Subpath:   raw.Resources.Cgroup,
		CPUWeight: raw.Resources.CPU.Weight,
		CPUMax:    raw.Resources.CPU.Max,
		IOWeight:  raw.Resources.IO.Weight,
		PidsMax:   raw.Resources.Pids.Max,
	}
	if raw.Resources.Memory.Max != "" {
		v, err := ParseMemoryLimit(raw.Resources.Memory.Max)
		if err != nil {
			return err
		}
		limits.MemoryMax = v
	}
	if raw.Resources.Memory.High != "" {
		v, err := ParseMemoryLimit(raw.Resources.Memory.High)
		if err != nil {
			return err
		}
		limits.MemoryHigh = v
	}
	decl.Cgroup = limits
	return nil
}

func decodeIsolation(decl *component.Declaration, raw componentFile) {
	iso := component.Isolation{Root: raw.Isolation.Root, Hostname: raw.Isolation.Hostname}
	for _, ns := range strings.Split(raw.Isolation.Namespaces, ",") {
		ns = strings.TrimSpace(ns)
		if ns == "" {
			continue
		}
		iso.Namespaces = append(iso.Namespaces, component.Namespace(ns))
	}
	decl.Isolation = iso
}

func decodeCheckpoint(decl *component.Declaration, raw componentFile) error {
	policy := component.CheckpointPolicy{
		Enabled:      raw.Checkpoint.Enabled,
		PreserveFDs:  raw.Checkpoint.PreserveFDs,
		LeaveRunning: raw.Checkpoint.LeaveRunning,
		MaxAgeHours:  raw.Checkpoint.MaxAgeHours,
	}
	if raw.Checkpoint.MemoryEstimate != "" {
		v, err := ParseMemoryLimit(raw.Checkpoint.MemoryEstimate)
		if err != nil {
			return err
		}
		policy.MemoryEstimate = v
	}
	decl.Checkpoint = policy
	return nil
}

func decodeHandoff(decl *component.Declaration, raw componentFile) {
	switch raw.Lifecycle.Handoff {
	case "fd-passing":
		decl.Handoff = component.HandoffFDPassing
	case "checkpoint":
		decl.Handoff = component.HandoffCheckpoint
	case "state-file":
		// Legacy selector accepted but not wired to a coordinator tier of its
		// own (spec.md §6 lists it as a declaration-schema value; the
		// Upgrade Coordinator in §4.9 only implements checkpoint/fd-passing/
		// restart). Treat it as "none" so the coordinator falls straight
		// through to Tier 3.
		decl.Handoff = component.HandoffNone
	default:
		decl.Handoff = component.HandoffNone
	}
}
