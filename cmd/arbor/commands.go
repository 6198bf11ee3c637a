package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bluesky-social/arbor/mptree"
	"github.com/bluesky-social/arbor/pptree"
	"github.com/bluesky-social/arbor/tree"
	"github.com/bluesky-social/arbor/treegen"
	"github.com/urfave/cli/v2"
)

// codec converts engine keys to and from command line text.
type codec[K any] struct {
	parse  func(string) (K, error)
	format func(K) string
}

var idCodec = codec[tree.NodeID]{
	parse:  parseID,
	format: func(id tree.NodeID) string { return strconv.FormatInt(int64(id), 10) },
}

func pathCodec(e *mptree.Engine) codec[mptree.Path] {
	return codec[mptree.Path]{parse: e.ParsePath, format: e.Format}
}

func parseID(s string) (tree.NodeID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q", s)
	}
	return tree.NodeID(v), nil
}

func parseDistance(s string) (int, error) {
	d, err := strconv.Atoi(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid distance %q", s)
	}
	return d, nil
}

// needArgs checks the positional argument count.
func needArgs(cctx *cli.Context, n int) error {
	if cctx.Args().Len() != n {
		return fmt.Errorf("expected %d argument(s): %s", n, cctx.Command.ArgsUsage)
	}
	return nil
}

var cmdInsert = &cli.Command{
	Name:  "insert",
	Usage: "add a node to the parent-pointer tree",
	Flags: []cli.Flag{
		&cli.Int64Flag{
			Name:     "id",
			Required: true,
		},
		&cli.Int64Flag{
			Name:  "parent",
			Usage: "parent node id; omit to insert the root",
		},
		&cli.Int64Flag{
			Name: "value",
		},
	},
	Action: func(cctx *cli.Context) error {
		return withParentPointer(cctx, func(e *pptree.Engine) error {
			var parent *tree.NodeID
			if cctx.IsSet("parent") {
				parent = pptree.Under(tree.NodeID(cctx.Int64("parent")))
			}
			return e.Insert(cctx.Context, tree.NodeID(cctx.Int64("id")), parent, tree.Value(cctx.Int64("value")))
		})
	},
}

var cmdPush = &cli.Command{
	Name:  "push",
	Usage: "add a node to the materialized-path tree",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "path",
			Usage:    "full path of the node, eg 1.3.5",
			Required: true,
		},
		&cli.Int64Flag{
			Name: "value",
		},
	},
	Action: func(cctx *cli.Context) error {
		return withMaterializedPath(cctx, func(e *mptree.Engine) error {
			p, err := e.ParsePath(cctx.String("path"))
			if err != nil {
				return err
			}
			return e.Push(cctx.Context, p, tree.Value(cctx.Int64("value")))
		})
	},
}

var cmdRemove = &cli.Command{
	Name:      "remove",
	Usage:     "delete a node, moving its children up to its parent",
	ArgsUsage: "<id|path>",
	Action: func(cctx *cli.Context) error {
		if err := needArgs(cctx, 1); err != nil {
			return err
		}
		arg := cctx.Args().First()
		return dispatch(cctx,
			func(e *pptree.Engine) error {
				id, err := parseID(arg)
				if err != nil {
					return err
				}
				return e.Remove(cctx.Context, id)
			},
			func(e *mptree.Engine) error {
				p, err := e.ParsePath(arg)
				if err != nil {
					return err
				}
				return e.Remove(cctx.Context, p)
			})
	},
}

var cmdMove = &cli.Command{
	Name:      "move",
	Usage:     "relocate a node (see --move-policy)",
	ArgsUsage: "<id> <new-parent-id> | <path> <new-path>",
	Action: func(cctx *cli.Context) error {
		if err := needArgs(cctx, 2); err != nil {
			return err
		}
		from, to := cctx.Args().Get(0), cctx.Args().Get(1)
		return dispatch(cctx,
			func(e *pptree.Engine) error {
				id, err := parseID(from)
				if err != nil {
					return err
				}
				parent, err := parseID(to)
				if err != nil {
					return err
				}
				return e.Move(cctx.Context, id, parent)
			},
			func(e *mptree.Engine) error {
				p, err := e.ParsePath(from)
				if err != nil {
					return err
				}
				np, err := e.ParsePath(to)
				if err != nil {
					return err
				}
				return e.Move(cctx.Context, p, np)
			})
	},
}

var cmdQuery = &cli.Command{
	Name:  "query",
	Usage: "sub-commands for read-only tree queries",
	Subcommands: []*cli.Command{
		queryCommand("descendants", "every node below the given one, with its distance", "<key>"),
		queryCommand("at-depth", "descendants exactly <distance> levels below", "<key> <distance>"),
		queryCommand("parent", "direct parent", "<key>"),
		queryCommand("ancestors", "every node above the given one, nearest first", "<key>"),
		queryCommand("ancestor-at", "the ancestor <distance> levels up", "<key> <distance>"),
		queryCommand("siblings", "nodes at the same depth (see --siblings)", "<key>"),
		queryCommand("depth", "distance from the root", "<key>"),
	},
}

func queryCommand(name, usage, argsUsage string) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: argsUsage,
		Action: func(cctx *cli.Context) error {
			if err := needArgs(cctx, strings.Count(argsUsage, "<")); err != nil {
				return err
			}
			return dispatch(cctx,
				func(e *pptree.Engine) error {
					return runQuery[tree.NodeID](cctx, name, e, idCodec)
				},
				func(e *mptree.Engine) error {
					return runQuery[mptree.Path](cctx, name, e, pathCodec(e))
				})
		},
	}
}

func runQuery[K any](cctx *cli.Context, kind string, e tree.Engine[K], c codec[K]) error {
	ctx := cctx.Context
	w := cctx.App.Writer

	key, err := c.parse(cctx.Args().Get(0))
	if err != nil {
		return err
	}
	var distance int
	if cctx.Args().Len() > 1 {
		if distance, err = parseDistance(cctx.Args().Get(1)); err != nil {
			return err
		}
	}

	switch kind {
	case "descendants", "ancestors":
		var out []tree.Ranked[K]
		if kind == "descendants" {
			out, err = e.Descendants(ctx, key)
		} else {
			out, err = e.Ancestors(ctx, key)
		}
		if err != nil {
			return err
		}
		for _, r := range out {
			fmt.Fprintf(w, "%s\t%d\n", c.format(r.Key), r.Distance)
		}
	case "at-depth", "siblings":
		var out []K
		if kind == "at-depth" {
			out, err = e.DescendantsAt(ctx, key, distance)
		} else {
			out, err = e.Siblings(ctx, key)
		}
		if err != nil {
			return err
		}
		writeKeys(w, out, c)
	case "parent", "ancestor-at":
		var (
			k  K
			ok bool
		)
		if kind == "parent" {
			k, ok, err = e.Parent(ctx, key)
		} else {
			k, ok, err = e.AncestorAt(ctx, key, distance)
		}
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(w, "(none)")
			return nil
		}
		fmt.Fprintln(w, c.format(k))
	case "depth":
		d, err := e.Depth(ctx, key)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, d)
	default:
		return fmt.Errorf("unknown query %q", kind)
	}
	return nil
}

func writeKeys[K any](w io.Writer, keys []K, c codec[K]) {
	for _, k := range keys {
		fmt.Fprintln(w, c.format(k))
	}
}

var cmdCheck = &cli.Command{
	Name:  "check",
	Usage: "verify the store holds one connected, acyclic tree",
	Action: func(cctx *cli.Context) error {
		var rep *tree.Report
		err := dispatch(cctx,
			func(e *pptree.Engine) (err error) {
				rep, err = e.Check(cctx.Context)
				return err
			},
			func(e *mptree.Engine) (err error) {
				rep, err = e.Check(cctx.Context)
				return err
			})
		if err != nil {
			return err
		}
		writeReport(cctx.App.Writer, rep)
		if !rep.OK {
			return cli.Exit("integrity check failed", 1)
		}
		return nil
	},
}

func writeReport(w io.Writer, rep *tree.Report) {
	status := "ok"
	if !rep.OK {
		status = "FAILED"
	}
	fmt.Fprintf(w, "%s: %d nodes, %d reachable, roots %v\n", status, rep.Nodes, rep.Visited, rep.Roots)
	for _, p := range rep.Problems {
		fmt.Fprintf(w, "  - %s\n", p)
	}
}

var cmdGen = &cli.Command{
	Name:  "gen",
	Usage: "load a randomly shaped tree",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "count",
			Value: 100,
		},
		&cli.IntFlag{
			Name:  "fanout",
			Usage: "maximum children per node, 0 for no limit",
		},
		&cli.Int64Flag{
			Name:  "seed",
			Value: 1,
		},
	},
	Action: func(cctx *cli.Context) error {
		nodes := treegen.Random(treegen.Options{
			Count:     cctx.Int("count"),
			MaxFanout: cctx.Int("fanout"),
			Seed:      cctx.Int64("seed"),
		})
		err := dispatch(cctx,
			func(e *pptree.Engine) error {
				return treegen.LoadParentPointer(cctx.Context, e, nodes)
			},
			func(e *mptree.Engine) error {
				return treegen.LoadMaterializedPath(cctx.Context, e, nodes)
			})
		if err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "loaded %d nodes\n", len(nodes))
		return nil
	},
}
