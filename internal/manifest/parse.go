package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tvaino/pakkeri/internal/confpatch"
	"github.com/tvaino/pakkeri/internal/mc"
)

// Load reads and validates a pack manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest: parse %s: %w", path, err)
	}
	return m, nil
}

type rawManifest struct {
	Name       string                `yaml:"name"`
	Mc         mc.Version            `yaml:"mc"`
	Loader     mc.Loader             `yaml:"loader"`
	TargetDirs *TargetDirs           `yaml:"target_dirs"`
	BuildTypes map[string]*BuildType `yaml:"build_types"`
	Mods       []yaml.Node           `yaml:"mods"`
}

type rawMod struct {
	Name        string         `yaml:"name"`
	Version     string         `yaml:"version"`
	Type        string         `yaml:"type"`
	Side        string         `yaml:"side"`
	Source      string         `yaml:"source"`
	Comment     string         `yaml:"comment"`
	Disabled    bool           `yaml:"disabled"`
	InBuilds    []string       `yaml:"in_builds"`
	NotInBuilds []string       `yaml:"not_in_builds"`
	Conf        confpatch.Spec `yaml:"conf"`
	ClientConf  confpatch.Spec `yaml:"client_conf"`
	ServerConf  confpatch.Spec `yaml:"server_conf"`
}

type rawGroup struct {
	Name   string      `yaml:"name"`
	Desc   string      `yaml:"desc"`
	Type   string      `yaml:"type"`
	Side   string      `yaml:"side"`
	Source string      `yaml:"source"`
	Mods   []yaml.Node `yaml:"mods"`
}

// groupDefaults carries the inheritable attributes down a group tree.
type groupDefaults struct {
	category string
	typ      mc.ModType
	side     mc.Side
	source   *Source
}

// Parse decodes a manifest document and applies the inheritance rules:
// pack-level defaults, group defaults, then per-mod declarations, with
// the most specific winning.
func Parse(data []byte) (*Manifest, error) {
	var raw rawManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw.Loader == "" {
		raw.Loader = mc.LoaderForge
	}
	m := &Manifest{
		Name:       raw.Name,
		McVersion:  raw.Mc,
		Loader:     raw.Loader,
		TargetDirs: DefaultTargetDirs(),
		BuildTypes: make(map[string]*BuildType, len(raw.BuildTypes)),
	}
	if raw.TargetDirs != nil {
		m.TargetDirs = *raw.TargetDirs
	}
	for name, bt := range raw.BuildTypes {
		bt.Name = name
		if bt.Side == mc.SideNone {
			bt.Side = mc.SideBoth
		}
		m.BuildTypes[name] = bt
	}
	defaults := groupDefaults{typ: mc.TypeMod, side: mc.SideBoth}
	for _, node := range raw.Mods {
		if err := decodeModItem(m, node, defaults); err != nil {
			return nil, err
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeModItem(m *Manifest, node yaml.Node, defaults groupDefaults) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var ref string
		if err := node.Decode(&ref); err != nil {
			return err
		}
		return appendMod(m, rawMod{Name: ref}, defaults)
	case yaml.MappingNode:
		if hasKey(&node, "mods") {
			return decodeGroup(m, node, defaults)
		}
		var raw rawMod
		if err := node.Decode(&raw); err != nil {
			return err
		}
		return appendMod(m, raw, defaults)
	default:
		return fmt.Errorf("manifest: unsupported mod entry (line %d)", node.Line)
	}
}

func decodeGroup(m *Manifest, node yaml.Node, defaults groupDefaults) error {
	var g rawGroup
	if err := node.Decode(&g); err != nil {
		return err
	}
	defaults.category = g.Name
	if g.Type != "" {
		t, err := mc.ParseModType(g.Type)
		if err != nil {
			return err
		}
		defaults.typ = t
	}
	if g.Side != "" {
		s, err := mc.ParseSide(g.Side)
		if err != nil {
			return err
		}
		defaults.side = s
	}
	if g.Source != "" {
		src, err := parseSource(g.Source)
		if err != nil {
			return err
		}
		defaults.source = &src
	}
	for _, child := range g.Mods {
		if err := decodeModItem(m, child, defaults); err != nil {
			return err
		}
	}
	return nil
}

func appendMod(m *Manifest, raw rawMod, defaults groupDefaults) error {
	req := &ModRequest{
		Pin:         raw.Version,
		Comment:     raw.Comment,
		Disabled:    raw.Disabled,
		InBuilds:    raw.InBuilds,
		NotInBuilds: raw.NotInBuilds,
		Category:    defaults.category,
		CommonConf:  raw.Conf,
		ClientConf:  raw.ClientConf,
		ServerConf:  raw.ServerConf,
	}

	source, name, pin, err := splitModRef(raw.Name)
	if err != nil {
		return err
	}
	req.Name = name
	if pin != "" {
		req.Pin = pin
	}

	switch {
	case raw.Source != "":
		src, err := parseSource(raw.Source)
		if err != nil {
			return err
		}
		req.Source = src
	case source != nil:
		req.Source = *source
	case defaults.source != nil:
		req.Source = *defaults.source
	default:
		req.Source = Source{Kind: SourceRegistry}
	}

	req.Type = defaults.typ
	if raw.Type != "" {
		t, err := mc.ParseModType(raw.Type)
		if err != nil {
			return err
		}
		req.Type = t
	}

	// Shader and resource packs are client content unless said otherwise.
	side := defaults.side
	if req.Type == mc.TypeShaderpack || req.Type == mc.TypeResourcepack {
		side = mc.SideClient
	}
	if raw.Side != "" {
		s, err := mc.ParseSide(raw.Side)
		if err != nil {
			return err
		}
		side = s
	}
	req.Side = side

	req.McVersion = mc.VersionMatch{Version: &m.McVersion}
	req.McFallback = mc.VersionMatch{Version: &m.McVersion, Caret: true}

	m.Mods = append(m.Mods, req)
	return nil
}

// splitModRef splits the "source/name:version" shorthand. A ref with a
// path separator whose prefix is not a known registry name is a local
// file; its basename becomes the mod name.
func splitModRef(ref string) (*Source, string, string, error) {
	if ref == "" {
		return nil, "", "", nil
	}
	name := ref
	var source *Source
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		prefix := ref[:i]
		switch strings.ToLower(prefix) {
		case "modrinth":
			source = &Source{Kind: SourceRegistry}
			name = ref[i+1:]
		case "curse", "curseforge":
			source = &Source{Kind: SourceBrowser}
			name = ref[i+1:]
		default:
			return &Source{Kind: SourceLocal, Path: ref}, filepath.Base(ref), "", nil
		}
	}
	name, pin, _ := strings.Cut(name, ":")
	return source, name, pin, nil
}

func parseSource(s string) (Source, error) {
	switch strings.ToLower(s) {
	case "", "modrinth", "registry":
		return Source{Kind: SourceRegistry}, nil
	case "curse", "curseforge", "browser":
		return Source{Kind: SourceBrowser}, nil
	default:
		return Source{Kind: SourceLocal, Path: s}, nil
	}
}

func hasKey(node *yaml.Node, key string) bool {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}
