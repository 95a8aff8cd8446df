// Package lockfile reads and writes the per-build-type lock document.
// The lock pins what a build actually produced (name, version, digest
// and target file per mod) so a later build reproduces it and the
// resolver can bias toward previously chosen versions.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"
)

// Entry is one locked mod.
type Entry struct {
	Name     string        `yaml:"name"`
	Version  string        `yaml:"version"`
	Checksum digest.Digest `yaml:"checksum,omitempty"`
	Source   string        `yaml:"source,omitempty"`
	File     string        `yaml:"file,omitempty"` // path relative to the build output
	Explicit bool          `yaml:"explicit,omitempty"`
}

// File is the lock document for one build type.
type File struct {
	Pack      string    `yaml:"pack,omitempty"`
	BuildType string    `yaml:"build_type"`
	McVersion string    `yaml:"mc"`
	Loader    string    `yaml:"loader"`
	CreatedAt time.Time `yaml:"created_at"`
	Mods      []Entry   `yaml:"mods"`
}

// Path returns the conventional lock file location for a build type.
func Path(dir, buildType string) string {
	return filepath.Join(dir, buildType+".lock.yml")
}

// Versions returns the name to version mapping used to bias resolution.
func (f *File) Versions() map[string]string {
	out := make(map[string]string, len(f.Mods))
	for _, e := range f.Mods {
		out[e.Name] = e.Version
	}
	return out
}

// Entry returns the locked entry for a mod, or nil.
func (f *File) Entry(name string) *Entry {
	for i := range f.Mods {
		if f.Mods[i].Name == name {
			return &f.Mods[i]
		}
	}
	return nil
}

// Sort orders entries by name so the document is stable across runs.
func (f *File) Sort() {
	sort.Slice(f.Mods, func(i, j int) bool { return f.Mods[i].Name < f.Mods[j].Name })
}

// Read loads a lock file. A missing file is not an error: it returns
// nil so first builds run unlocked.
func Read(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lockfile: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("lockfile: parse %s: %w", path, err)
	}
	return &f, nil
}

// Write stores the lock atomically: tmp file, fsync, rename. The
// document is sorted first so diffs stay readable.
func Write(path string, f *File) error {
	f.Sort()
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("lockfile: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("lockfile: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".pakkeri-lock-*")
	if err != nil {
		return fmt.Errorf("lockfile: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("lockfile: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("lockfile: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("lockfile: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("lockfile: rename: %w", err)
	}
	success = true
	return nil
}
