// Package treegen produces trees to load into either engine: the fixed
// sample used by the demo and randomly shaped trees for tests and
// benchmarks.
package treegen

import (
	"context"

	"github.com/bluesky-social/arbor/mptree"
	"github.com/bluesky-social/arbor/pptree"
	"github.com/bluesky-social/arbor/tree"
	"github.com/brianvoe/gofakeit/v6"
)

// Node is a generated node. Nodes are always listed parents first.
type Node struct {
	ID     tree.NodeID
	Root   bool
	Parent tree.NodeID
	Value  tree.Value
}

// Sample is the eight node tree
//
//	1 -> 2, 3
//	3 -> 4, 5, 6
//	5 -> 7
//	6 -> 8
//
// with values 0, 6, 7, 3, 33, 333, 55, 66.
func Sample() []Node {
	return []Node{
		{ID: 1, Root: true, Value: 0},
		{ID: 2, Parent: 1, Value: 6},
		{ID: 3, Parent: 1, Value: 7},
		{ID: 4, Parent: 3, Value: 3},
		{ID: 5, Parent: 3, Value: 33},
		{ID: 6, Parent: 3, Value: 333},
		{ID: 7, Parent: 5, Value: 55},
		{ID: 8, Parent: 6, Value: 66},
	}
}

type Options struct {
	Count int

	// MaxFanout caps the children per node. Zero means no cap.
	MaxFanout int

	Seed int64
}

// Random builds a tree of opts.Count nodes with ids 1..Count. Node 1 is the
// root; every later node hangs below a random earlier one, so the same seed
// always yields the same tree.
func Random(opts Options) []Node {
	if opts.Count <= 0 {
		return nil
	}
	faker := gofakeit.New(opts.Seed)

	out := make([]Node, 0, opts.Count)
	out = append(out, Node{ID: 1, Root: true, Value: tree.Value(faker.Number(-1000, 1000))})

	fanout := make(map[tree.NodeID]int)
	// candidates holds the nodes still below MaxFanout
	candidates := []tree.NodeID{1}
	for i := 2; i <= opts.Count; i++ {
		pick := faker.Number(0, len(candidates)-1)
		parent := candidates[pick]

		id := tree.NodeID(i)
		out = append(out, Node{ID: id, Parent: parent, Value: tree.Value(faker.Number(-1000, 1000))})
		candidates = append(candidates, id)

		fanout[parent]++
		if opts.MaxFanout > 0 && fanout[parent] >= opts.MaxFanout {
			candidates[pick] = candidates[len(candidates)-1]
			candidates = candidates[:len(candidates)-1]
		}
	}
	return out
}

// Paths derives every node's materialized path.
func Paths(nodes []Node) map[tree.NodeID]mptree.Path {
	out := make(map[tree.NodeID]mptree.Path, len(nodes))
	for _, n := range nodes {
		if n.Root {
			out[n.ID] = mptree.P(n.ID)
			continue
		}
		out[n.ID] = out[n.Parent].Child(n.ID)
	}
	return out
}

func LoadParentPointer(ctx context.Context, e *pptree.Engine, nodes []Node) error {
	for _, n := range nodes {
		var parent *tree.NodeID
		if !n.Root {
			parent = pptree.Under(n.Parent)
		}
		if err := e.Insert(ctx, n.ID, parent, n.Value); err != nil {
			return err
		}
	}
	return nil
}

func LoadMaterializedPath(ctx context.Context, e *mptree.Engine, nodes []Node) error {
	paths := Paths(nodes)
	for _, n := range nodes {
		if err := e.Push(ctx, paths[n.ID], n.Value); err != nil {
			return err
		}
	}
	return nil
}
