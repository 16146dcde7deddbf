package kexec

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/renameio/v2"
)

// ManifestVersion is the manifest format version this build writes and
// understands (kexec.h's checkpoint_manifest_t.version).
const ManifestVersion = 1

// ManifestFileName is the fixed filename the manifest is persisted under,
// per spec.md §4.11 phase 5.
const ManifestFileName = "manifest.json"

// ManifestEntry is one checkpointed component, mirroring
// checkpoint_manifest_entry_t in the original implementation.
type ManifestEntry struct {
	ComponentName   string `json:"component_name"`
	CheckpointID    string `json:"checkpoint_id"`
	CheckpointPath  string `json:"checkpoint_path"`
	OriginalPID     int    `json:"original_pid"`
	Timestamp       int64  `json:"timestamp"`
	RestorePriority int    `json:"restore_priority"`
	Kind            string `json:"kind"` // "service" or "oneshot", drives validation fatality
}

// Manifest is the Kernel Transition Manifest of spec.md §3/§4.11.
type Manifest struct {
	Version       uint32          `json:"version"`
	EntryCount    uint32          `json:"entry_count"`
	CreationTime  int64           `json:"creation_time"`
	PriorKernel   string          `json:"prior_kernel_release"`
	NewKernelPath string          `json:"new_kernel_path"`
	InitrdPath    string          `json:"initrd_path"`
	Cmdline       string          `json:"cmdline"`
	Entries       []ManifestEntry `json:"entries"`
}

// SaveManifest writes the manifest as JSON to <persistentRoot>/manifest.json
// and fsyncs it (spec.md §4.11 phase 5).
func SaveManifest(persistentRoot string, m Manifest) error {
	m.EntryCount = uint32(len(m.Entries))
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("kexec: marshal manifest: %w", err)
	}
	path := filepath.Join(persistentRoot, ManifestFileName)
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("kexec: write manifest %s: %w", path, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("kexec: reopen manifest for fsync: %w", err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return fmt.Errorf("kexec: fsync manifest: %w", err)
	}
	return nil
}

// LoadManifest reads the manifest from <persistentRoot>/manifest.json.
func LoadManifest(persistentRoot string) (Manifest, error) {
	path := filepath.Join(persistentRoot, ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("kexec: read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("kexec: parse manifest %s: %w", path, err)
	}
	return m, nil
}

// ManifestExists reports whether a persisted manifest is present, the
// resume-needed check of spec.md §4.11 ("Resume ... if the persistent
// manifest exists").
func ManifestExists(persistentRoot string) bool {
	_, err := os.Stat(filepath.Join(persistentRoot, ManifestFileName))
	return err == nil
}

// sortedByPriority returns entries sorted ascending by RestorePriority
// (lower restores first, per kexec.h's doc comment on the field).
func sortedByPriority(entries []ManifestEntry) []ManifestEntry {
	out := append([]ManifestEntry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].RestorePriority < out[j].RestorePriority })
	return out
}
