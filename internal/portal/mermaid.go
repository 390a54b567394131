package portal

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Ava-Prime/gitguard-sub000/internal/model"
)

// maxMermaidNodes caps the embedded graph at the 20 nodes nearest the
// PR node (spec §4.9).
const maxMermaidNodes = 20

// RenderMermaid renders a bounded Mermaid flowchart over nodes/edges,
// deterministically ordered by (ntype, nkey) ascending so the same
// graph state always produces byte-identical markdown.
func RenderMermaid(nodes []model.KGNode, edges []model.KGEdge) string {
	sorted := append([]model.KGNode(nil), nodes...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Ntype != sorted[j].Ntype {
			return sorted[i].Ntype < sorted[j].Ntype
		}
		return sorted[i].Nkey < sorted[j].Nkey
	})
	if len(sorted) > maxMermaidNodes {
		sorted = sorted[:maxMermaidNodes]
	}
	kept := make(map[string]bool, len(sorted))
	for _, n := range sorted {
		kept[n.ID] = true
	}

	var b strings.Builder
	b.WriteString("graph TD\n")
	for _, n := range sorted {
		label := n.Title
		if label == "" {
			label = n.Nkey
		}
		fmt.Fprintf(&b, "  %s[%q]\n", mermaidSafeID(n.ID), label)
	}

	var keptEdges []model.KGEdge
	for _, e := range edges {
		if kept[e.Src] && kept[e.Dst] {
			keptEdges = append(keptEdges, e)
		}
	}
	sort.Slice(keptEdges, func(i, j int) bool {
		if keptEdges[i].Src != keptEdges[j].Src {
			return keptEdges[i].Src < keptEdges[j].Src
		}
		return keptEdges[i].Dst < keptEdges[j].Dst
	})
	for _, e := range keptEdges {
		fmt.Fprintf(&b, "  %s -->|%s| %s\n", mermaidSafeID(e.Src), e.Rel, mermaidSafeID(e.Dst))
	}
	return b.String()
}

func mermaidSafeID(id string) string {
	return sanitizeKey(id)
}
