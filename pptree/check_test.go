package pptree

import (
	"testing"

	"github.com/bluesky-social/arbor/tree"
	"github.com/stretchr/testify/assert"
)

func TestAuditWideFrontier(t *testing.T) {
	// a frontier far wider than any small fixed bound must still be
	// expanded in full
	nodes := []Node{{ID: 0}}
	for i := 1; i <= 500; i++ {
		nodes = append(nodes, Node{ID: tree.NodeID(i), HasParent: true, Parent: 0})
		nodes = append(nodes, Node{ID: tree.NodeID(1000 + i), HasParent: true, Parent: tree.NodeID(i)})
	}

	rep := audit(nodes)
	assert.True(t, rep.OK, "problems: %v", rep.Problems)
	assert.Equal(t, 1001, rep.Visited)
}

func TestAuditEmpty(t *testing.T) {
	rep := audit(nil)
	assert.True(t, rep.OK)
	assert.Equal(t, 0, rep.Nodes)
}

func TestAuditNoRoot(t *testing.T) {
	rep := audit([]Node{
		{ID: 1, HasParent: true, Parent: 2},
		{ID: 2, HasParent: true, Parent: 1},
	})
	assert.False(t, rep.OK)
	assert.Equal(t, 0, rep.Visited)
	assert.Contains(t, rep.Problems, "expected exactly one root, found 0")
}

func TestAuditCycleBesideRoot(t *testing.T) {
	// a cycle hanging off nothing is reported once, as unreachable nodes
	rep := audit([]Node{
		{ID: 1},
		{ID: 2, HasParent: true, Parent: 1},
		{ID: 3, HasParent: true, Parent: 4},
		{ID: 4, HasParent: true, Parent: 3},
		{ID: 9, HasParent: true, Parent: 9},
	})
	assert.False(t, rep.OK)
	assert.Equal(t, 2, rep.Visited)
	assert.Equal(t, []string{"3 of 5 nodes unreachable from the root: [3 4 9]"}, rep.Problems)
}
