// Package confpatch edits structured config documents while preserving
// comments and formatting of untouched regions. Documents are YAML (or
// JSON, which the YAML parser accepts); the tree is navigated by dotted
// key paths and mutated in place, so comment metadata attached to
// unedited nodes survives the round trip.
package confpatch

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Document is a parsed config file. The original bytes are kept so an
// untouched document serializes back byte-for-byte.
type Document struct {
	source   []byte
	root     *yaml.Node // document node
	modified bool
}

// Parse reads a YAML or JSON config document.
func Parse(data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("confpatch: parse: %w", err)
	}
	if root.Kind == 0 {
		// Empty file: synthesize an empty mapping so edits can create keys.
		root = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}},
		}
	}
	return &Document{source: data, root: &root}, nil
}

// Bytes serializes the document. An unmodified document returns the
// original bytes unchanged.
func (d *Document) Bytes() ([]byte, error) {
	if !d.modified {
		return d.source, nil
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.root.Content[0]); err != nil {
		return nil, fmt.Errorf("confpatch: serialize: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("confpatch: serialize: %w", err)
	}
	return buf.Bytes(), nil
}

// top returns the document's top-level mapping node.
func (d *Document) top() (*yaml.Node, error) {
	n := d.root.Content[0]
	if n.Kind == yaml.MappingNode {
		return n, nil
	}
	return nil, fmt.Errorf("confpatch: document root is not a mapping")
}

// lookup finds the value node for key in a mapping, or nil.
func lookup(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

// ensureChild finds or appends the value node for key in a mapping.
// Created nodes are empty mappings with no comment metadata.
func ensureChild(mapping *yaml.Node, key string) *yaml.Node {
	if n := lookup(mapping, key); n != nil {
		return n
	}
	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	valNode := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	mapping.Content = append(mapping.Content, keyNode, valNode)
	return valNode
}

// navigate walks a dotted key path, creating intermediate sections when
// create is set. It returns the leaf value node (nil if absent and
// create is false).
func (d *Document) navigate(path Path, create bool) (*yaml.Node, error) {
	node, err := d.top()
	if err != nil {
		return nil, err
	}
	for i, key := range path {
		if node.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("confpatch: %s is not a section", path[:i].String())
		}
		var next *yaml.Node
		if create {
			next = ensureChild(node, key)
		} else if next = lookup(node, key); next == nil {
			return nil, nil
		}
		node = next
	}
	return node, nil
}

// setNode overwrites a node's value in place, keeping its comments and
// surrounding formatting attached.
func setNode(node *yaml.Node, value interface{}) error {
	var fresh yaml.Node
	if err := fresh.Encode(value); err != nil {
		return fmt.Errorf("confpatch: encode value: %w", err)
	}
	node.Kind = fresh.Kind
	node.Tag = fresh.Tag
	node.Value = fresh.Value
	node.Content = fresh.Content
	// Style is reset so replacement values render in canonical form;
	// HeadComment/LineComment/FootComment are deliberately untouched.
	node.Style = 0
	return nil
}

// renderValue gives the compact human-readable form of a node's value,
// used in change logs and diffs.
func renderValue(node *yaml.Node) string {
	if node == nil {
		return "<absent>"
	}
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Value
	case yaml.SequenceNode:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range node.Content {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(renderValue(item))
		}
		buf.WriteByte(']')
		return buf.String()
	case yaml.MappingNode:
		return "{...}"
	default:
		return node.Value
	}
}

func kindName(node *yaml.Node) string {
	switch node.Kind {
	case yaml.ScalarNode:
		return "a scalar"
	case yaml.SequenceNode:
		return "a list"
	case yaml.MappingNode:
		return "a section"
	default:
		return "unknown"
	}
}
