// Package install copies a built pack output into a Minecraft
// instance. The instance kind decides which directories exist: servers
// keep default configs and a single world/ directory, single-player
// instances keep saves/, clients keep neither.
package install

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Kind classifies an instance.
type Kind string

const (
	KindClient       Kind = "client"
	KindServer       Kind = "server"
	KindSinglePlayer Kind = "single-player"
)

// ParseKind validates an instance kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindClient, KindServer, KindSinglePlayer:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("install: unknown instance kind %q", s)
	}
}

// Instance is one Minecraft installation on disk.
type Instance struct {
	Name  string `yaml:"name"`
	Path  string `yaml:"path"`
	Kind  Kind   `yaml:"kind"`
	World string `yaml:"world,omitempty"` // single-player world name
}

// WorldDir returns the active world directory, or empty when the
// instance has none (clients, or single-player without a chosen world).
func (i *Instance) WorldDir() string {
	switch i.Kind {
	case KindServer:
		return filepath.Join(i.Path, "world")
	case KindSinglePlayer:
		if i.World == "" {
			return ""
		}
		return filepath.Join(i.Path, "saves", i.World)
	default:
		return ""
	}
}

// SavesDir returns the saves directory, single-player only.
func (i *Instance) SavesDir() string {
	if i.Kind != KindSinglePlayer {
		return ""
	}
	return filepath.Join(i.Path, "saves")
}

// Worlds lists the instance's world names.
func (i *Instance) Worlds() ([]string, error) {
	dir := i.SavesDir()
	if dir == "" {
		if i.Kind == KindServer {
			return []string{"world"}, nil
		}
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("install: list worlds: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// managedDirs maps output subdirectories to their destination inside
// the instance. Directories the kind does not use are skipped.
func (i *Instance) managedDirs() map[string]string {
	dirs := map[string]string{
		"mods":          filepath.Join(i.Path, "mods"),
		"config":        filepath.Join(i.Path, "config"),
		"resourcepacks": filepath.Join(i.Path, "resourcepacks"),
		"shaderpacks":   filepath.Join(i.Path, "shaderpacks"),
	}
	if i.Kind != KindClient {
		dirs["defaultconfigs"] = filepath.Join(i.Path, "defaultconfigs")
		if world := i.WorldDir(); world != "" {
			dirs["datapacks"] = filepath.Join(world, "datapacks")
		}
	}
	return dirs
}

// Install replaces the instance's managed directories with the build
// output at outputDir. Output subdirectories that are absent or empty
// are left alone so a mods-only build does not wipe existing configs.
func Install(instance *Instance, outputDir string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(instance.Path); err != nil {
		return fmt.Errorf("install: instance %s: %w", instance.Name, err)
	}

	for sub, dst := range instance.managedDirs() {
		src := filepath.Join(outputDir, sub)
		if empty, err := isEmptyOrMissing(src); err != nil {
			return err
		} else if empty {
			continue
		}
		if err := replaceTree(src, dst); err != nil {
			return fmt.Errorf("install: %s: %w", sub, err)
		}
		logger.Info("installed",
			slog.String("instance", instance.Name),
			slog.String("dir", sub))
	}
	return nil
}

func isEmptyOrMissing(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("install: read %s: %w", dir, err)
	}
	return len(entries) == 0, nil
}

// replaceTree removes dst and copies src in its place.
func replaceTree(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}
