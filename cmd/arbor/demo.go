package main

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/bluesky-social/arbor/kv"
	"github.com/bluesky-social/arbor/mptree"
	"github.com/bluesky-social/arbor/pptree"
	"github.com/bluesky-social/arbor/tree"
	"github.com/bluesky-social/arbor/treegen"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var cmdDemo = &cli.Command{
	Name:  "demo",
	Usage: "walk through the sample tree on fresh in-memory stores",
	Action: func(cctx *cli.Context) error {
		var runPP, runMP bool
		switch name := cctx.String("engine"); name {
		case "pp":
			runPP = true
		case "mp":
			runMP = true
		case "both":
			runPP, runMP = true, true
		default:
			return fmt.Errorf("unknown engine %q (want pp, mp or both)", name)
		}

		// each engine writes to its own buffer so the output stays in order
		var ppOut, mpOut bytes.Buffer
		eg, ctx := errgroup.WithContext(cctx.Context)
		if runPP {
			eg.Go(func() error {
				e, err := openParentPointer(cctx, kv.NewMemory())
				if err != nil {
					return err
				}
				defer e.Close()
				return demoParentPointer(ctx, &ppOut, e)
			})
		}
		if runMP {
			eg.Go(func() error {
				e, err := openMaterializedPath(cctx, kv.NewMemory())
				if err != nil {
					return err
				}
				defer e.Close()
				return demoMaterializedPath(ctx, &mpOut, e)
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}

		w := cctx.App.Writer
		if _, err := ppOut.WriteTo(w); err != nil {
			return err
		}
		_, err := mpOut.WriteTo(w)
		return err
	},
}

func demoParentPointer(ctx context.Context, w io.Writer, e *pptree.Engine) error {
	fmt.Fprintf(w, "== parent pointer engine\n")
	if err := treegen.LoadParentPointer(ctx, e, treegen.Sample()); err != nil {
		return err
	}
	render := func() error {
		t, err := renderParentPointer(ctx, e)
		if err != nil {
			return err
		}
		fmt.Fprint(w, t.String())
		return nil
	}
	key := func(id tree.NodeID) (tree.NodeID, error) { return id, nil }
	corrupt := func() error {
		return e.Insert(ctx, 9, pptree.Under(9), 99)
	}
	return demoScenario[tree.NodeID](ctx, w, e, idCodec, key, render, corrupt)
}

func demoMaterializedPath(ctx context.Context, w io.Writer, e *mptree.Engine) error {
	fmt.Fprintf(w, "== materialized path engine\n")
	if err := treegen.LoadMaterializedPath(ctx, e, treegen.Sample()); err != nil {
		return err
	}
	render := func() error {
		t, err := renderMaterializedPath(ctx, e)
		if err != nil {
			return err
		}
		fmt.Fprint(w, t.String())
		return nil
	}
	// paths change under removal, so look the id up every time
	key := func(id tree.NodeID) (mptree.Path, error) {
		nodes, err := e.Nodes(ctx)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			if n.Path.ID() == id {
				return n.Path, nil
			}
		}
		return nil, fmt.Errorf("node %d: %w", id, tree.ErrNotFound)
	}
	corrupt := func() error {
		p, err := key(3)
		if err != nil {
			return err
		}
		return e.Push(ctx, p.Child(3), 99)
	}
	return demoScenario[mptree.Path](ctx, w, e, pathCodec(e), key, render, corrupt)
}

// demoScenario removes node 6 from the sample tree, runs the queries
// around it and finally corrupts the tree with a self reference.
func demoScenario[K any](
	ctx context.Context,
	w io.Writer,
	e tree.Engine[K],
	c codec[K],
	key func(tree.NodeID) (K, error),
	render func() error,
	corrupt func() error,
) error {
	if err := render(); err != nil {
		return err
	}

	k4, err := key(4)
	if err != nil {
		return err
	}
	sibs, err := e.Siblings(ctx, k4)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "siblings(4) = %v\n", formatKeys(sibs, c))

	k6, err := key(6)
	if err != nil {
		return err
	}
	if err := e.Remove(ctx, k6); err != nil {
		return err
	}
	fmt.Fprintf(w, "removed 6\n")
	if err := render(); err != nil {
		return err
	}

	k8, err := key(8)
	if err != nil {
		return err
	}
	parent, _, err := e.Parent(ctx, k8)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "parent(8) = %s\n", c.format(parent))

	k3, err := key(3)
	if err != nil {
		return err
	}
	below, err := e.DescendantsAt(ctx, k3, 2)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "descendantsAt(3, 2) = %v\n", formatKeys(below, c))

	k7, err := key(7)
	if err != nil {
		return err
	}
	anc, ok, err := e.AncestorAt(ctx, k7, 2)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintf(w, "ancestorAt(7, 2) = %s\n", c.format(anc))
	}

	rep, err := e.Check(ctx)
	if err != nil {
		return err
	}
	writeReport(w, rep)

	if err := corrupt(); err != nil {
		return err
	}
	fmt.Fprintf(w, "inserted a self-referencing node\n")
	rep, err = e.Check(ctx)
	if err != nil {
		return err
	}
	writeReport(w, rep)
	return nil
}

func formatKeys[K any](keys []K, c codec[K]) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.format(k))
	}
	return out
}
