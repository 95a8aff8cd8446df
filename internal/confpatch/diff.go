package confpatch

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// RenderDiff renders the patched document as a unified-style listing:
// unchanged leaves are context lines, edited leaves appear as a -/+
// pair showing the previous and new value. It operates on the
// structured values, not raw text, so formatting noise never shows up
// as a change.
func RenderDiff(doc *Document, log ChangeLog) string {
	changes := make(map[string]ChangeEntry, len(log))
	for _, entry := range log {
		changes[entry.Path.String()] = entry
	}
	top, err := doc.top()
	if err != nil {
		return ""
	}
	var b strings.Builder
	renderNode(&b, top, nil, changes)
	return b.String()
}

func renderNode(b *strings.Builder, mapping *yaml.Node, prefix Path, changes map[string]ChangeEntry) {
	indent := strings.Repeat("  ", len(prefix))
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key := mapping.Content[i].Value
		val := mapping.Content[i+1]
		keyPath := append(append(Path{}, prefix...), key)
		if val.Kind == yaml.MappingNode {
			b.WriteString("  " + indent + key + ":\n")
			renderNode(b, val, keyPath, changes)
			continue
		}
		if entry, ok := changes[keyPath.String()]; ok {
			b.WriteString("- " + indent + key + ": " + entry.Old + "\n")
			b.WriteString("+ " + indent + key + ": " + entry.New + "\n")
			continue
		}
		b.WriteString("  " + indent + key + ": " + renderValue(val) + "\n")
	}
}
