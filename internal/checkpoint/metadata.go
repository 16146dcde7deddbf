package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/renameio/v2"
)

const metadataFileName = "metadata.json"

// EngineVersion is the checkpoint engine's (major, minor, patch) triple, as
// recorded in a checkpoint's metadata sidecar at the time it was taken.
type EngineVersion struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

// Metadata is the per-checkpoint sidecar of spec.md §3 "Checkpoint Entry".
type Metadata struct {
	ComponentName string        `json:"component_name"`
	OriginalPID   int           `json:"original_pid"`
	Timestamp     int64         `json:"timestamp"`
	ImageSize     int64         `json:"image_size"`
	Capabilities  string        `json:"capabilities"` // comma-joined, per spec.md §3
	EngineVersion EngineVersion `json:"engine_version"`
	LeaveRunning  bool          `json:"leave_running"`
	PreserveFDs   string        `json:"preserve_fds"` // comma-joined
}

// CapabilitiesList splits the comma-joined Capabilities field.
func (m Metadata) CapabilitiesList() []string {
	if m.Capabilities == "" {
		return nil
	}
	return strings.Split(m.Capabilities, ",")
}

// SaveMetadata writes metadata.json into dir atomically (checkpoint_save_metadata).
func SaveMetadata(dir string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal metadata: %w", err)
	}
	path := dir + "/" + metadataFileName
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write metadata %s: %w", path, err)
	}
	return nil
}

// LoadMetadata reads metadata.json from dir (checkpoint_load_metadata).
func LoadMetadata(dir string) (Metadata, error) {
	path := dir + "/" + metadataFileName
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("checkpoint: read metadata %s: %w", path, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("checkpoint: parse metadata %s: %w", path, err)
	}
	return meta, nil
}
