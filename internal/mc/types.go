package mc

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModType classifies a piece of pack content; it decides which target
// directory the artifact is installed into.
type ModType string

const (
	TypeMod          ModType = "mod"
	TypeDatapack     ModType = "datapack"
	TypeResourcepack ModType = "resourcepack"
	TypeShaderpack   ModType = "shaderpack"
)

// ParseModType maps manifest spellings to a ModType; empty means mod.
func ParseModType(s string) (ModType, error) {
	switch strings.ToLower(s) {
	case "", "mod":
		return TypeMod, nil
	case "datapack":
		return TypeDatapack, nil
	case "resourcepack":
		return TypeResourcepack, nil
	case "shaderpack":
		return TypeShaderpack, nil
	default:
		return "", fmt.Errorf("mc: unknown mod type %q", s)
	}
}

func (t *ModType) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseModType(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Loader is a mod loader framework. Only mods are loader-filtered;
// datapacks and resource/shaderpacks are loader-agnostic.
type Loader string

const (
	LoaderForge    Loader = "forge"
	LoaderFabric   Loader = "fabric"
	LoaderQuilt    Loader = "quilt"
	LoaderNeoForge Loader = "neoforge"
)

// ParseLoader maps manifest spellings to a Loader; empty means forge,
// the manifest default.
func ParseLoader(s string) (Loader, error) {
	switch strings.ToLower(s) {
	case "", "forge":
		return LoaderForge, nil
	case "fabric":
		return LoaderFabric, nil
	case "quilt":
		return LoaderQuilt, nil
	case "neoforge":
		return LoaderNeoForge, nil
	default:
		return "", fmt.Errorf("mc: unknown loader %q", s)
	}
}

func (l *Loader) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseLoader(raw)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
