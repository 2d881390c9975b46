// Package snapref assigns stable refs to a flat element list and
// renders the human-readable snapshot tree.
package snapref

import (
	"fmt"
	"strings"

	"pkt.systems/browsercx/schema"
)

type groupKey struct {
	role string
	name string
}

// BuildTree deterministically assigns refs ("e1".."eN" in input order)
// and renders one line per element. Identical input yields byte-identical
// output. Nth disambiguation is exposed only for (role, name) groups
// with real duplicates.
func BuildTree(nodes []schema.Element) (string, map[schema.RefID]schema.RefEntry) {
	refs := make(map[schema.RefID]schema.RefEntry, len(nodes))
	seen := make(map[groupKey]int, len(nodes))
	total := make(map[groupKey]int, len(nodes))
	for _, node := range nodes {
		total[groupKey{node.Role, normalizeName(node.Name)}]++
	}

	var tree strings.Builder
	for i, node := range nodes {
		ref := schema.RefID(fmt.Sprintf("e%d", i+1))
		name := normalizeName(node.Name)
		key := groupKey{node.Role, name}
		nth := seen[key]
		seen[key]++

		tree.WriteString("- ")
		tree.WriteString(node.Role)
		if name != "" {
			tree.WriteString(fmt.Sprintf(" %q", name))
		}
		tree.WriteString(fmt.Sprintf(" [ref=%s]", ref))
		if nth > 0 {
			tree.WriteString(fmt.Sprintf(" [nth=%d]", nth))
		}
		if suffix := strings.TrimSpace(node.Suffix); suffix != "" {
			tree.WriteString(" ")
			tree.WriteString(suffix)
		}
		tree.WriteString("\n")

		entry := schema.RefEntry{
			Selector: node.Selector,
			Role:     node.Role,
			Name:     name,
		}
		if total[key] > 1 {
			n := nth
			entry.Nth = &n
		}
		refs[ref] = entry
	}
	return tree.String(), refs
}

// normalizeName collapses interior whitespace and trims the ends so
// visually identical names land in the same group.
func normalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
