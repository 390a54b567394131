package graph

import (
	"strings"

	"github.com/Ava-Prime/gitguard-sub000/internal/model"
)

// maxNeighborDepth bounds how far a single Neighbors call may traverse,
// independent of what a caller asks for — an unbounded BFS over the
// knowledge graph is the one query shape that can turn a portal page
// render into an outage.
const maxNeighborDepth = 6

// nodeID builds the graph's natural key: type-prefixed so two different
// node kinds can never collide even if their Nkey strings happen to
// match (e.g. a File and a Symbol sharing a path).
func nodeID(ntype model.NodeType, nkey string) string {
	return strings.ToLower(string(ntype)) + ":" + nkey
}

func clampDepth(requested int) int {
	if requested <= 0 {
		return 1
	}
	if requested > maxNeighborDepth {
		return maxNeighborDepth
	}
	return requested
}
