package checkpoint

import "context"

// Engine is the opaque external checkpoint-image tool (spec.md §1, §4.10):
// everything this package needs from it, no more.
type Engine interface {
	// IsSupported reports whether the engine can run on this host at all.
	IsSupported() bool
	// Version returns the engine's (major, minor, patch) triple.
	Version() (major, minor, patch int)
	// Checkpoint snapshots pid's memory image into dir. If leaveRunning is
	// false the process is stopped as part of the checkpoint.
	Checkpoint(ctx context.Context, pid int, dir string, leaveRunning bool) error
	// Restore restores a process image from dir, returning the new pid.
	Restore(ctx context.Context, dir string) (pid int, err error)
}

// MinimumImagePrefixes are the sidecar file-name prefixes an image
// directory must contain at least one file of each, per spec.md §4.10
// ("core image, memory map, process tree"). These follow CRIU's on-disk
// image naming convention, the most common checkpoint engine this
// collaborator interface is expected to front.
var MinimumImagePrefixes = []string{"core-", "pages-", "pstree"}
