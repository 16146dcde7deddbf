package checkpoint

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"graphinit/pkg/logging"
)

// DefaultMaxEntries bounds a component's checkpoint count absent an
// explicit keep_count (MAX_CHECKPOINTS_PER_COMPONENT in the original).
const DefaultMaxEntries = 10

// DefaultQuotaBytes is the advisory storage_usage quota reported when the
// caller has not configured one; purely informational, never enforced
// directly by the store.
const DefaultQuotaBytes = 2 << 30 // 2 GiB

// Entry is a single checkpoint (component-name, checkpoint-id, on-disk
// path, metadata sidecar), per spec.md §3 "Checkpoint Entry".
type Entry struct {
	Component string
	ID        string
	Path      string
	Metadata  Metadata
}

// Store is the Checkpoint Store of spec.md §4.10.
type Store struct {
	EphemeralRoot  string
	PersistentRoot string

	mu     sync.Mutex
	lastID int64 // last-issued checkpoint id, for monotonicity
}

// New builds a Store rooted at ephemeralRoot (upgrade scratch) and
// persistentRoot (operator backups, kernel-transition manifest).
func New(ephemeralRoot, persistentRoot string) *Store {
	return &Store{EphemeralRoot: ephemeralRoot, PersistentRoot: persistentRoot}
}

func (s *Store) root(persistent bool) string {
	if persistent {
		return s.PersistentRoot
	}
	return s.EphemeralRoot
}

// nextID returns a decimal unix-timestamp id, sleeping up to 1 second to
// guarantee strict monotonicity across successive calls (spec.md §4.10:
// "a store must guarantee monotonicity by sleeping 1 second between
// successive ids when required for ordering").
func (s *Store) nextID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	if now <= s.lastID {
		time.Sleep(time.Second)
		now = time.Now().Unix()
	}
	s.lastID = now
	return strconv.FormatInt(now, 10)
}

// CreateDir allocates a new checkpoint directory for component, returning
// its id and path (checkpoint_create_directory).
func (s *Store) CreateDir(component string, persistent bool) (id, path string, err error) {
	id = s.nextID()
	path = filepath.Join(s.root(persistent), component, id)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", "", fmt.Errorf("checkpoint: create directory %s: %w", path, err)
	}
	logging.Info("Checkpoint", "created checkpoint directory %s with id %s", path, id)
	return id, path, nil
}

// List returns every checkpoint for component (or every component, if
// component is "") under the given root, sorted newest-first. Missing
// metadata is tolerated and backfilled from the directory's mtime.
func (s *Store) List(component string, persistent bool) ([]Entry, error) {
	base := s.root(persistent)
	var names []string
	if component != "" {
		names = []string{component}
	} else {
		entries, err := os.ReadDir(base)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("checkpoint: list %s: %w", base, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				names = append(names, e.Name())
			}
		}
	}

	var out []Entry
	for _, name := range names {
		compDir := filepath.Join(base, name)
		dirEntries, err := os.ReadDir(compDir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("checkpoint: list %s: %w", compDir, err)
		}
		for _, ckptDir := range dirEntries {
			if !ckptDir.IsDir() {
				continue
			}
			if strings.Contains(ckptDir.Name(), ".tmp-") {
				// MigrateToPersistent scratch copy, not a finished entry.
				continue
			}
			path := filepath.Join(compDir, ckptDir.Name())
			entry := Entry{Component: name, ID: ckptDir.Name(), Path: path}
			if meta, err := LoadMetadata(path); err == nil {
				entry.Metadata = meta
			} else {
				entry.Metadata = Metadata{ComponentName: name, Timestamp: dirMTime(path)}
			}
			out = append(out, entry)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Metadata.Timestamp > out[j].Metadata.Timestamp })
	logging.Info("Checkpoint", "found %d checkpoints for component %q", len(out), componentLabel(component))
	return out, nil
}

func componentLabel(component string) string {
	if component == "" {
		return "(all)"
	}
	return component
}

func dirMTime(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().Unix()
}

// StorageUsage reports bytes used, entry count, and the advisory quota for
// component (or every component) under the given root.
func (s *Store) StorageUsage(component string, persistent bool) (bytesUsed int64, count int, quotaBytes int64, maxEntries int, err error) {
	entries, err := s.List(component, persistent)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	for _, e := range entries {
		bytesUsed += directorySize(e.Path)
	}
	return bytesUsed, len(entries), DefaultQuotaBytes, DefaultMaxEntries, nil
}

func directorySize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// Cleanup removes entries for component (or every component) beyond
// keepCount and older than maxAgeHours (0 means no age bound). keepCount of
// 0 defaults to DefaultMaxEntries.
func (s *Store) Cleanup(component string, keepCount, maxAgeHours int, persistent bool) (removed int, err error) {
	entries, err := s.List(component, persistent)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	if keepCount <= 0 {
		keepCount = DefaultMaxEntries
	}

	now := time.Now().Unix()
	maxAgeSeconds := int64(maxAgeHours) * 3600

	for i, e := range entries {
		tooOld := maxAgeHours > 0 && now-e.Metadata.Timestamp > maxAgeSeconds
		beyondKeep := i >= keepCount
		if !tooOld && !beyondKeep {
			continue
		}
		if err := os.RemoveAll(e.Path); err != nil {
			logging.Warn("Checkpoint", "cleanup: failed to remove %s: %v", e.Path, err)
			continue
		}
		removed++
	}
	logging.Info("Checkpoint", "cleanup removed %d checkpoints for %q", removed, componentLabel(component))
	return removed, nil
}

// FindLatest returns the newest checkpoint id for component.
func (s *Store) FindLatest(component string, persistent bool) (id string, ok bool, err error) {
	entries, err := s.List(component, persistent)
	if err != nil {
		return "", false, err
	}
	if len(entries) == 0 {
		return "", false, nil
	}
	return entries[0].ID, true, nil
}

// Remove deletes a specific checkpoint entry.
func (s *Store) Remove(component, id string, persistent bool) error {
	path := filepath.Join(s.root(persistent), component, id)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("checkpoint: remove %s: %w", path, err)
	}
	return nil
}

// MigrateToPersistent copies an ephemeral entry to the persistent root,
// returning the new path. The copy lands in a uuid-suffixed scratch
// directory first and is only renamed into its final name once complete, so
// a crash or failed copy never leaves a half-migrated checkpoint at the path
// List/FindLatest would otherwise pick up.
func (s *Store) MigrateToPersistent(component, id string) (string, error) {
	src := filepath.Join(s.EphemeralRoot, component, id)
	dst := filepath.Join(s.PersistentRoot, component, id)
	tmp := dst + ".tmp-" + uuid.NewString()

	if err := copyDir(src, tmp); err != nil {
		os.RemoveAll(tmp)
		return "", fmt.Errorf("checkpoint: migrate %s/%s to persistent: %w", component, id, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.RemoveAll(tmp)
		return "", fmt.Errorf("checkpoint: migrate %s/%s to persistent: rename into place: %w", component, id, err)
	}
	return dst, nil
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}

// ValidateImageDir checks that dir exists, is a directory, and contains at
// least one file matching each of MinimumImagePrefixes (spec.md §4.10).
func ValidateImageDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("checkpoint: validate %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("checkpoint: validate %s: not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("checkpoint: validate %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}

	for _, prefix := range MinimumImagePrefixes {
		if !anyHasPrefix(names, prefix) {
			return fmt.Errorf("checkpoint: validate %s: missing sidecar with prefix %q", dir, prefix)
		}
	}
	return nil
}

func anyHasPrefix(names []string, prefix string) bool {
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}
