package main

import (
	"context"
	"fmt"

	"github.com/bluesky-social/arbor/mptree"
	"github.com/bluesky-social/arbor/pptree"
	"github.com/bluesky-social/arbor/tree"
	"github.com/urfave/cli/v2"
	"github.com/xlab/treeprint"
)

var cmdPrint = &cli.Command{
	Name:  "print",
	Usage: "render the stored tree",
	Action: func(cctx *cli.Context) error {
		var out treeprint.Tree
		err := dispatch(cctx,
			func(e *pptree.Engine) (err error) {
				out, err = renderParentPointer(cctx.Context, e)
				return err
			},
			func(e *mptree.Engine) (err error) {
				out, err = renderMaterializedPath(cctx.Context, e)
				return err
			})
		if err != nil {
			return err
		}
		fmt.Fprint(cctx.App.Writer, out.String())
		return nil
	},
}

// renderParentPointer draws every root with its subtree. Nodes that no
// root reaches (cycles, dangling parents) are listed under a separate
// branch.
func renderParentPointer(ctx context.Context, e *pptree.Engine) (treeprint.Tree, error) {
	nodes, err := e.Nodes(ctx)
	if err != nil {
		return nil, err
	}

	children := make(map[tree.NodeID][]pptree.Node)
	var roots []pptree.Node
	for _, n := range nodes {
		if p, ok := n.ParentID(); ok {
			children[p] = append(children[p], n)
		} else {
			roots = append(roots, n)
		}
	}

	type item struct {
		node   pptree.Node
		branch treeprint.Tree
	}
	out := treeprint.New()
	seen := make(map[tree.NodeID]bool, len(nodes))
	var work []item
	for _, r := range roots {
		work = append(work, item{node: r, branch: out})
	}
	for len(work) > 0 {
		it := work[0]
		work = work[1:]
		if seen[it.node.ID] {
			continue
		}
		seen[it.node.ID] = true
		b := it.branch.AddMetaBranch(it.node.Value, it.node.ID)
		for _, c := range children[it.node.ID] {
			work = append(work, item{node: c, branch: b})
		}
	}

	if len(seen) < len(nodes) {
		lost := out.AddBranch("unreachable")
		for _, n := range nodes {
			if !seen[n.ID] {
				lost.AddMetaNode(n.Value, fmt.Sprintf("%d (parent %d)", n.ID, n.Parent))
			}
		}
	}
	return out, nil
}

// renderMaterializedPath relies on key order: a path always sorts after
// its ancestors, so a parent's branch exists before its children arrive.
func renderMaterializedPath(ctx context.Context, e *mptree.Engine) (treeprint.Tree, error) {
	nodes, err := e.Nodes(ctx)
	if err != nil {
		return nil, err
	}

	out := treeprint.New()
	var detached treeprint.Tree
	branches := make(map[string]treeprint.Tree, len(nodes))
	for _, n := range nodes {
		parent, ok := n.Path.Parent()
		if !ok {
			branches[n.Path.String()] = out.AddMetaBranch(n.Value, n.Path.ID())
			continue
		}
		if pb, ok := branches[parent.String()]; ok {
			branches[n.Path.String()] = pb.AddMetaBranch(n.Value, n.Path.ID())
			continue
		}
		if detached == nil {
			detached = out.AddBranch("detached")
		}
		branches[n.Path.String()] = detached.AddMetaBranch(n.Value, e.Format(n.Path))
	}
	return out, nil
}
