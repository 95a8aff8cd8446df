package confpatch

import (
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tvaino/pakkeri/internal/apperr"
)

// Path is a dotted key path into a config document. Keys themselves may
// not contain dots.
type Path []string

// ParsePath splits a dotted key path.
func ParsePath(s string) Path { return Path(strings.Split(s, ".")) }

func (p Path) String() string { return strings.Join(p, ".") }

// Op is the closed set of edit operators. Adding an operator means
// extending this enum and every switch over it; unsupported operators
// are a compile-time gap, not a runtime surprise.
type Op int

const (
	// OpSet replaces the leaf value with a literal. Absolute: applying
	// it twice equals applying it once.
	OpSet Op = iota
	// OpConcat appends its operand list to an existing list leaf. Not
	// idempotent: repeated application grows the list. Intentional.
	OpConcat
)

func (o Op) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpConcat:
		return "concat"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Edit is one keyed operation inside a file's patch.
type Edit struct {
	Path  Path
	Op    Op
	Value interface{} // literal for set, operand slice for concat
}

// Mode selects the patch variant for one target file or pattern.
type Mode int

const (
	// ModeCopy copies every file matching the pattern verbatim.
	ModeCopy Mode = iota
	// ModeOverwrite writes literal content to the target file.
	ModeOverwrite
	// ModeEdit applies keyed edits onto the mod's shipped default.
	ModeEdit
)

// FileSpec is the patch declaration for one file (ModeOverwrite,
// ModeEdit) or glob pattern (ModeCopy).
type FileSpec struct {
	Pattern string
	Mode    Mode
	Content string // ModeOverwrite only
	Edits   []Edit // ModeEdit only, in declaration order
}

// Spec is the full per-mod patch declaration for one scope (common,
// client, or server).
type Spec struct {
	Files []FileSpec
}

// IsZero reports whether the spec declares nothing.
func (s Spec) IsZero() bool { return len(s.Files) == 0 }

// UnmarshalYAML accepts the manifest shorthand forms:
//
//	conf: "pattern"                  single verbatim copy
//	conf: ["a/*.yml", {f.yml: {...}}]  list of copies and edits
//	conf: {f.yml: {key.path: value}}   map of edits/overwrites
//
// A map value that is a string overwrites the file with that content; a
// map value that is a mapping is a set of path edits.
func (s *Spec) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var pattern string
		if err := value.Decode(&pattern); err != nil {
			return err
		}
		s.Files = append(s.Files, FileSpec{Pattern: pattern, Mode: ModeCopy})
		return nil
	case yaml.SequenceNode:
		for _, item := range value.Content {
			if err := s.UnmarshalYAML(item); err != nil {
				return err
			}
		}
		return nil
	case yaml.MappingNode:
		return s.decodeFileMap(value)
	default:
		return fmt.Errorf("confpatch: unsupported config declaration (line %d)", value.Line)
	}
}

func (s *Spec) decodeFileMap(node *yaml.Node) error {
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		val := node.Content[i+1]
		switch val.Kind {
		case yaml.ScalarNode:
			var content string
			if err := val.Decode(&content); err != nil {
				return err
			}
			s.Files = append(s.Files, FileSpec{Pattern: name, Mode: ModeOverwrite, Content: content})
		case yaml.MappingNode:
			edits, err := decodeEdits(val)
			if err != nil {
				return fmt.Errorf("confpatch: edits for %s: %w", name, err)
			}
			s.Files = append(s.Files, FileSpec{Pattern: name, Mode: ModeEdit, Edits: edits})
		default:
			return fmt.Errorf("confpatch: unsupported declaration for %s (line %d)", name, val.Line)
		}
	}
	return nil
}

// decodeEdits reads an ordered path → value mapping. A mapping value of
// shape {concat: [...]} is the concat operator; anything else is a
// literal replacement.
func decodeEdits(node *yaml.Node) ([]Edit, error) {
	var edits []Edit
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyPath := ParsePath(node.Content[i].Value)
		val := node.Content[i+1]
		if op, operand, ok := decodeOperator(val); ok {
			edits = append(edits, Edit{Path: keyPath, Op: op, Value: operand})
			continue
		}
		var literal interface{}
		if err := val.Decode(&literal); err != nil {
			return nil, fmt.Errorf("value at %s: %w", keyPath, err)
		}
		edits = append(edits, Edit{Path: keyPath, Op: OpSet, Value: literal})
	}
	return edits, nil
}

func decodeOperator(node *yaml.Node) (Op, interface{}, bool) {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return 0, nil, false
	}
	if node.Content[0].Value != "concat" {
		return 0, nil, false
	}
	var operand []interface{}
	if err := node.Content[1].Decode(&operand); err != nil {
		return 0, nil, false
	}
	return OpConcat, operand, true
}

// Merge layers a more specific spec over s: file declarations for the
// same target replace the base one, edits for the same path within a
// shared target are overridden by the more specific declaration.
func (s Spec) Merge(override Spec) Spec {
	if s.IsZero() {
		return override
	}
	if override.IsZero() {
		return s
	}
	merged := Spec{}
	overridden := make(map[string]bool, len(override.Files))
	for _, f := range override.Files {
		overridden[f.Pattern] = true
	}
	for _, f := range s.Files {
		if !overridden[f.Pattern] {
			merged.Files = append(merged.Files, f)
			continue
		}
		for _, o := range override.Files {
			if o.Pattern == f.Pattern && f.Mode == ModeEdit && o.Mode == ModeEdit {
				merged.Files = append(merged.Files, FileSpec{
					Pattern: f.Pattern,
					Mode:    ModeEdit,
					Edits:   mergeEdits(f.Edits, o.Edits),
				})
				overridden[f.Pattern] = false // consumed
			}
		}
	}
	for _, f := range override.Files {
		if overridden[f.Pattern] {
			merged.Files = append(merged.Files, f)
		}
	}
	return merged
}

// mergeEdits keeps base order but lets override win per path; override
// edits for new paths are appended. The last write is the only one that
// survives, so the change log shows a single entry per path.
func mergeEdits(base, override []Edit) []Edit {
	byPath := make(map[string]Edit, len(override))
	for _, e := range override {
		byPath[e.Path.String()] = e
	}
	var out []Edit
	seen := make(map[string]bool)
	for _, e := range base {
		key := e.Path.String()
		if o, ok := byPath[key]; ok {
			out = append(out, o)
		} else {
			out = append(out, e)
		}
		seen[key] = true
	}
	for _, e := range override {
		if !seen[e.Path.String()] {
			out = append(out, e)
		}
	}
	return out
}

// Validate rejects ambiguous declarations: a file with edits (or an
// overwrite) must not also be matched by a verbatim-copy pattern.
func (s Spec) Validate() error {
	for _, f := range s.Files {
		if f.Mode == ModeCopy {
			continue
		}
		for _, c := range s.Files {
			if c.Mode != ModeCopy {
				continue
			}
			if ok, _ := path.Match(c.Pattern, f.Pattern); ok || c.Pattern == f.Pattern {
				return &apperr.ConflictingPatchError{File: f.Pattern, Pattern: c.Pattern}
			}
		}
	}
	return nil
}
