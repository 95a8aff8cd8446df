package confpatch

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/tvaino/pakkeri/internal/apperr"
)

// ChangeEntry records one applied edit: the path, the value before and
// after, and the operator that produced it.
type ChangeEntry struct {
	Path Path
	Op   Op
	Old  string
	New  string
}

// ChangeLog is the ordered record of every edit applied to a document.
type ChangeLog []ChangeEntry

// ApplyEdits applies keyed edits to the document in declaration order.
// An empty edit list leaves the document untouched byte-for-byte.
// Set replaces the leaf in place, keeping its comments; missing keys
// and intermediate sections are created. Concat requires an existing
// list leaf and appends its operands to it.
func ApplyEdits(doc *Document, edits []Edit) (ChangeLog, error) {
	var log ChangeLog
	for _, edit := range edits {
		entry, err := applyEdit(doc, edit)
		if err != nil {
			return nil, err
		}
		log = append(log, entry)
	}
	return log, nil
}

func applyEdit(doc *Document, edit Edit) (ChangeEntry, error) {
	switch edit.Op {
	case OpSet:
		return applySet(doc, edit)
	case OpConcat:
		return applyConcat(doc, edit)
	default:
		return ChangeEntry{}, fmt.Errorf("confpatch: unsupported operator %s at %s", edit.Op, edit.Path)
	}
}

func applySet(doc *Document, edit Edit) (ChangeEntry, error) {
	existing, err := doc.navigate(edit.Path, false)
	if err != nil {
		return ChangeEntry{}, err
	}
	old := renderValue(existing)
	node := existing
	if node == nil {
		if node, err = doc.navigate(edit.Path, true); err != nil {
			return ChangeEntry{}, err
		}
	}
	if err := setNode(node, edit.Value); err != nil {
		return ChangeEntry{}, err
	}
	doc.modified = true
	return ChangeEntry{Path: edit.Path, Op: OpSet, Old: old, New: renderValue(node)}, nil
}

func applyConcat(doc *Document, edit Edit) (ChangeEntry, error) {
	node, err := doc.navigate(edit.Path, false)
	if err != nil {
		return ChangeEntry{}, err
	}
	if node == nil {
		return ChangeEntry{}, &apperr.TypeMismatchError{Path: edit.Path.String(), Op: edit.Op.String(), Got: "absent"}
	}
	if node.Kind != yaml.SequenceNode {
		return ChangeEntry{}, &apperr.TypeMismatchError{Path: edit.Path.String(), Op: edit.Op.String(), Got: kindName(node)}
	}
	operands, ok := edit.Value.([]interface{})
	if !ok {
		return ChangeEntry{}, &apperr.TypeMismatchError{Path: edit.Path.String(), Op: edit.Op.String(), Got: "non-list operand"}
	}
	old := renderValue(node)
	for _, operand := range operands {
		var item yaml.Node
		if err := item.Encode(operand); err != nil {
			return ChangeEntry{}, fmt.Errorf("confpatch: encode concat operand at %s: %w", edit.Path, err)
		}
		node.Content = append(node.Content, &item)
	}
	doc.modified = true
	return ChangeEntry{Path: edit.Path, Op: OpConcat, Old: old, New: renderValue(node)}, nil
}
