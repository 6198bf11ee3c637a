package pptree

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bluesky-social/arbor/tree"
)

// Check audits the whole store under one view. It builds the parent to
// children adjacency from the node records (not the child index) and walks
// it breadth first from the root, expanding the full frontier every round.
// The tree is intact iff there is exactly one root and every node is
// visited: with one parent link per non-root node, n nodes connected by n-1
// links cannot hold a cycle.
//
// A failed check is reported in the Report, not as an error.
func (e *Engine) Check(ctx context.Context) (rep *tree.Report, err error) {
	ctx, span := e.tracer.Start(ctx, "Check")
	defer tree.EndSpan(span, &err)
	defer tree.Observe(engineName, "check", time.Now(), &err)

	var nodes []Node
	err = e.view(ctx, func(t *txn) error {
		var err error
		nodes, err = t.all()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("integrity check: %w", err)
	}

	rep = audit(nodes)
	tree.ObserveCheck(engineName, rep)
	if !rep.OK {
		e.log.Warn("integrity check failed", "nodes", rep.Nodes, "visited", rep.Visited, "problems", rep.Problems)
	}
	return rep, nil
}

func audit(nodes []Node) *tree.Report {
	rep := &tree.Report{OK: true, Nodes: len(nodes)}

	stored := make(map[tree.NodeID]struct{}, len(nodes))
	for _, n := range nodes {
		stored[n.ID] = struct{}{}
	}

	kids := make(map[tree.NodeID][]tree.NodeID)
	var roots []tree.NodeID
	for _, n := range nodes {
		if !n.HasParent {
			roots = append(roots, n.ID)
			rep.Roots = append(rep.Roots, strconv.FormatInt(int64(n.ID), 10))
			continue
		}
		if _, ok := stored[n.Parent]; !ok {
			rep.Failf("node %d points at missing parent %d", n.ID, n.Parent)
		}
		kids[n.Parent] = append(kids[n.Parent], n.ID)
	}

	if len(nodes) == 0 {
		return rep
	}
	if len(roots) != 1 {
		rep.Failf("expected exactly one root, found %d", len(roots))
	}

	visited := make(map[tree.NodeID]struct{}, len(nodes))
	frontier := make([]tree.NodeID, 0, len(roots))
	for _, r := range roots {
		visited[r] = struct{}{}
		frontier = append(frontier, r)
	}
	for len(frontier) > 0 {
		var next []tree.NodeID
		for _, p := range frontier {
			// each record names one parent, so a child is listed once
			for _, c := range kids[p] {
				visited[c] = struct{}{}
				next = append(next, c)
			}
		}
		frontier = next
	}
	rep.Visited = len(visited)

	if rep.Visited != rep.Nodes {
		var unreachable []tree.NodeID
		for _, n := range nodes {
			if _, ok := visited[n.ID]; !ok {
				unreachable = append(unreachable, n.ID)
			}
		}
		rep.Failf("%d of %d nodes unreachable from the root: %v", len(unreachable), rep.Nodes, unreachable)
	}
	return rep
}
