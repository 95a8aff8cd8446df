// Package manifest holds the declarative pack description: wanted mods
// with per-side config overrides, build types, and target directories.
// Values are immutable once parsed; the resolver and orchestrator only
// read them.
package manifest

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/tvaino/pakkeri/internal/confpatch"
	"github.com/tvaino/pakkeri/internal/mc"
)

// SourceKind distinguishes where a mod's bytes come from.
type SourceKind string

const (
	SourceRegistry SourceKind = "registry"
	SourceBrowser  SourceKind = "browser" // browser-automation collaborator
	SourceLocal    SourceKind = "local"
)

// Source identifies where one ModRequest is fetched from. Local sources
// carry the file (or directory) path.
type Source struct {
	Kind SourceKind
	Path string // local path; empty for remote kinds
}

func (s Source) IsLocal() bool { return s.Kind == SourceLocal }

func (s Source) String() string {
	if s.Kind == SourceLocal {
		return s.Path
	}
	return string(s.Kind)
}

// BuildType is a named pack variant with a side filter.
type BuildType struct {
	Name  string
	Side  mc.Side `yaml:"side"`
	Title string  `yaml:"title"`
}

// ModRequest is one user-declared want. Parsed from the manifest,
// defaults inherited from the pack and its group, then frozen.
type ModRequest struct {
	Name        string
	Pin         string // explicit version pin, empty for latest
	Source      Source
	Type        mc.ModType
	Side        mc.Side
	McVersion   mc.VersionMatch // exact match against the pack's game version
	McFallback  mc.VersionMatch // caret fallback when no exact build exists
	Category    string          // owning group name, cosmetic only
	Comment     string
	Disabled    bool
	InBuilds    []string
	NotInBuilds []string

	CommonConf confpatch.Spec
	ClientConf confpatch.Spec
	ServerConf confpatch.Spec
}

// EnabledFor reports whether the request participates in a build type:
// not disabled, side intersects the filter, and any in/not-in build
// lists admit it.
func (r *ModRequest) EnabledFor(bt *BuildType) bool {
	if r.Disabled || !r.Side.Intersects(bt.Side) {
		return false
	}
	if len(r.InBuilds) > 0 && !contains(r.InBuilds, bt.Name) {
		return false
	}
	if contains(r.NotInBuilds, bt.Name) {
		return false
	}
	return true
}

// ConfFor merges the scopes applicable to a build type, most specific
// last so its declarations win: common, then client and/or server.
func (r *ModRequest) ConfFor(bt *BuildType) confpatch.Spec {
	spec := r.CommonConf
	if bt.Side.HasClient() {
		spec = spec.Merge(r.ClientConf)
	}
	if bt.Side.HasServer() {
		spec = spec.Merge(r.ServerConf)
	}
	return spec
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// TargetDirs names the output subdirectories per content type.
type TargetDirs struct {
	Mods          string `yaml:"mods"`
	Datapacks     string `yaml:"datapacks"`
	Resourcepacks string `yaml:"resourcepacks"`
	Shaderpacks   string `yaml:"shaderpacks"`
	Config        string `yaml:"config"`
	DefaultConfig string `yaml:"defaultconfig"`
}

// DefaultTargetDirs mirrors a vanilla instance layout.
func DefaultTargetDirs() TargetDirs {
	return TargetDirs{
		Mods:          "mods",
		Datapacks:     "datapacks",
		Resourcepacks: "resourcepacks",
		Shaderpacks:   "shaderpacks",
		Config:        "config",
		DefaultConfig: "defaultconfigs",
	}
}

// Dir returns the subdirectory for a content type.
func (d TargetDirs) Dir(t mc.ModType) string {
	switch t {
	case mc.TypeDatapack:
		return d.Datapacks
	case mc.TypeResourcepack:
		return d.Resourcepacks
	case mc.TypeShaderpack:
		return d.Shaderpacks
	default:
		return d.Mods
	}
}

// Manifest is the parsed pack description.
type Manifest struct {
	Name       string
	McVersion  mc.Version
	Loader     mc.Loader
	TargetDirs TargetDirs
	BuildTypes map[string]*BuildType
	Mods       []*ModRequest
}

// BuildType returns the named build type.
func (m *Manifest) BuildType(name string) (*BuildType, error) {
	bt, ok := m.BuildTypes[name]
	if !ok {
		return nil, fmt.Errorf("manifest: unknown build type %q", name)
	}
	return bt, nil
}

// BuildTypeMods returns the requests enabled for a build type.
func (m *Manifest) BuildTypeMods(bt *BuildType) []*ModRequest {
	var out []*ModRequest
	for _, r := range m.Mods {
		if r.EnabledFor(bt) {
			out = append(out, r)
		}
	}
	return out
}

// Mod returns the request with the given name, or nil.
func (m *Manifest) Mod(name string) *ModRequest {
	for _, r := range m.Mods {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// Validate checks structural integrity: a game version, at least one
// build type, unique non-empty mod names, and unambiguous patch specs.
func (m *Manifest) Validate() error {
	if err := validation.ValidateStruct(m,
		validation.Field(&m.McVersion, validation.Required),
		validation.Field(&m.BuildTypes, validation.Required),
	); err != nil {
		return err
	}
	seen := make(map[string]bool, len(m.Mods))
	for _, r := range m.Mods {
		if r.Name == "" {
			return fmt.Errorf("manifest: mod with empty name")
		}
		if seen[r.Name] {
			return fmt.Errorf("manifest: duplicate mod %q", r.Name)
		}
		seen[r.Name] = true
		for _, spec := range []confpatch.Spec{r.CommonConf, r.ClientConf, r.ServerConf} {
			if err := spec.Validate(); err != nil {
				return fmt.Errorf("manifest: mod %s: %w", r.Name, err)
			}
		}
	}
	return nil
}
