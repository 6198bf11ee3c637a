package mptree

import (
	"context"
	"fmt"
	"time"

	"github.com/bluesky-social/arbor/tree"
)

// Check audits the store under one view without traversing it. A path is a
// finite chain that describes itself, so the tree is intact iff
//
//   - exactly one node has depth 0,
//   - every node has as many stored ancestors as its depth,
//   - no segment repeats within a path (a node below itself), and
//   - no node id ends two different paths.
//
// A failed check is reported in the Report, not as an error.
func (e *Engine) Check(ctx context.Context) (rep *tree.Report, err error) {
	ctx, span := e.tracer.Start(ctx, "Check")
	defer tree.EndSpan(span, &err)
	defer tree.Observe(engineName, "check", time.Now(), &err)

	var nodes []Node
	err = e.view(ctx, func(t *txn) error {
		var err error
		nodes, err = t.scan(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("integrity check: %w", err)
	}

	rep = audit(nodes, e.opts.Separator)
	tree.ObserveCheck(engineName, rep)
	if !rep.OK {
		e.log.Warn("integrity check failed", "nodes", rep.Nodes, "problems", rep.Problems)
	}
	return rep, nil
}

func audit(nodes []Node, sep string) *tree.Report {
	rep := &tree.Report{OK: true, Nodes: len(nodes)}

	stored := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		stored[string(makePathKey(n.Path))] = struct{}{}
	}
	has := func(p Path) (bool, error) {
		_, ok := stored[string(makePathKey(p))]
		return ok, nil
	}

	owner := make(map[tree.NodeID]Path, len(nodes))
	for _, n := range nodes {
		name := n.Path.Format(sep)

		if n.Path.Depth() == 0 {
			rep.Roots = append(rep.Roots, name)
		}

		// has never fails, so neither does ancestors
		ups, _ := ancestors(n.Path, has)
		if len(ups) == n.Path.Depth() {
			rep.Visited++
		} else {
			rep.Failf("%s has %d stored ancestors at depth %d", name, len(ups), n.Path.Depth())
		}

		seen := make(map[tree.NodeID]struct{}, len(n.Path))
		for _, s := range n.Path {
			if _, ok := seen[s]; ok {
				rep.Failf("%s repeats segment %d", name, s)
				break
			}
			seen[s] = struct{}{}
		}

		if prev, ok := owner[n.Path.ID()]; ok {
			rep.Failf("node %d ends both %s and %s", n.Path.ID(), prev.Format(sep), name)
		} else {
			owner[n.Path.ID()] = n.Path
		}
	}

	if len(nodes) > 0 && len(rep.Roots) != 1 {
		rep.Failf("expected exactly one root, found %d", len(rep.Roots))
	}
	return rep
}
