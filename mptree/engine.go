// Package mptree is the materialized-path tree engine: every node is keyed
// by its full root-first ancestor chain, so structural queries are prefix
// manipulations of the key and depth is the segment count.
package mptree

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bluesky-social/arbor/kv"
	"github.com/bluesky-social/arbor/tree"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const engineName = "mptree"

// Node is one stored node.
type Node struct {
	Path  Path
	Value tree.Value
}

type Options struct {
	// Separator is used by ParsePath and Format.
	Separator string

	// Siblings defaults to tree.SiblingsExclusive: a node is not reported
	// as its own sibling.
	Siblings tree.SiblingPolicy

	Move tree.MovePolicy

	Logger *slog.Logger

	// TracerProvider defaults to the global otel provider.
	TracerProvider trace.TracerProvider
}

func DefaultOptions() Options {
	return Options{
		Separator: DefaultSeparator,
		Siblings:  tree.SiblingsExclusive,
		Move:      tree.MoveDetach,
	}
}

// Engine is safe for concurrent use. Writers are serialized and each public
// operation runs in a single store transaction.
type Engine struct {
	store  kv.Store
	opts   Options
	log    *slog.Logger
	tracer trace.Tracer

	lk sync.RWMutex
}

var _ tree.Engine[Path] = (*Engine)(nil)

// Open takes ownership of store; Close closes it.
func Open(store kv.Store, opts Options) (*Engine, error) {
	if opts.Separator == "" {
		opts.Separator = DefaultSeparator
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Engine{
		store:  store,
		opts:   opts,
		log:    log.With("system", engineName),
		tracer: tp.Tracer(engineName),
	}, nil
}

func (e *Engine) Close() error {
	return e.store.Close()
}

// ParsePath reads a path written with the engine's separator.
func (e *Engine) ParsePath(s string) (Path, error) {
	return ParsePath(s, e.opts.Separator)
}

func (e *Engine) Format(p Path) string {
	return p.Format(e.opts.Separator)
}

func (e *Engine) view(ctx context.Context, fn func(*txn) error) error {
	e.lk.RLock()
	defer e.lk.RUnlock()
	return e.store.View(ctx, func(r kv.Reader) error {
		return fn(&txn{r: r})
	})
}

func (e *Engine) update(ctx context.Context, fn func(*txn) error) error {
	e.lk.Lock()
	defer e.lk.Unlock()
	return e.store.Update(ctx, func(w kv.Writer) error {
		return fn(&txn{r: w, w: w})
	})
}

func checkPath(p Path) error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty path", tree.ErrInvalidPath)
	}
	return nil
}

// Push stores a node at path. The parent path is not required to exist; a
// missing link is only reported by Check.
func (e *Engine) Push(ctx context.Context, path Path, value tree.Value) (err error) {
	ctx, span := e.tracer.Start(ctx, "Push")
	defer tree.EndSpan(span, &err)
	span.SetAttributes(attribute.String("path", path.String()))
	defer tree.Observe(engineName, "push", time.Now(), &err)

	if err := checkPath(path); err != nil {
		return err
	}
	err = e.update(ctx, func(t *txn) error {
		return t.push(path, value)
	})
	if err != nil {
		return fmt.Errorf("push %s: %w", path, err)
	}
	e.log.Debug("pushed node", "path", path, "value", value)
	return nil
}

// Remove deletes the node at path and rewrites every descendant key to drop
// the removed segment, promoting the whole subtree one level. A root may
// only be removed when it has at most one child.
func (e *Engine) Remove(ctx context.Context, path Path) (err error) {
	ctx, span := e.tracer.Start(ctx, "Remove")
	defer tree.EndSpan(span, &err)
	span.SetAttributes(attribute.String("path", path.String()))
	defer tree.Observe(engineName, "remove", time.Now(), &err)

	if err := checkPath(path); err != nil {
		return err
	}
	var rewritten int
	err = e.update(ctx, func(t *txn) error {
		_, n, err := t.remove(path)
		rewritten = n
		return err
	})
	if err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	e.log.Debug("removed node", "path", path, "rewritten", rewritten)
	return nil
}

// Move relocates the node at path to newPath. With tree.MoveDetach it is
// Remove followed by Push with the same value, so the node's descendants
// stay behind, promoted one level. With tree.MoveSubtree the descendants
// are rewritten under newPath, and a newPath inside the moved subtree fails
// with tree.ErrCycleDetected.
func (e *Engine) Move(ctx context.Context, path, newPath Path) (err error) {
	ctx, span := e.tracer.Start(ctx, "Move")
	defer tree.EndSpan(span, &err)
	span.SetAttributes(attribute.String("path", path.String()), attribute.String("new_path", newPath.String()))
	defer tree.Observe(engineName, "move", time.Now(), &err)

	if err := checkPath(path); err != nil {
		return err
	}
	if err := checkPath(newPath); err != nil {
		return err
	}
	err = e.update(ctx, func(t *txn) error {
		switch e.opts.Move {
		case tree.MoveSubtree:
			return t.relocate(path, newPath)
		default:
			v, _, err := t.remove(path)
			if err != nil {
				return err
			}
			return t.push(newPath, v)
		}
	})
	if err != nil {
		return fmt.Errorf("move %s to %s: %w", path, newPath, err)
	}
	e.log.Debug("moved node", "path", path, "new_path", newPath, "policy", e.opts.Move)
	return nil
}

// Get returns the value stored at path.
func (e *Engine) Get(ctx context.Context, path Path) (tree.Value, error) {
	var v tree.Value
	err := e.view(ctx, func(t *txn) error {
		var err error
		v, err = t.value(path)
		return err
	})
	return v, err
}

// Nodes returns every stored node in key order, which is depth first.
func (e *Engine) Nodes(ctx context.Context) ([]Node, error) {
	var out []Node
	err := e.view(ctx, func(t *txn) error {
		var err error
		out, err = t.scan(nil)
		return err
	})
	return out, err
}

// Descendants returns every stored path strictly below path, tagged with
// its depth relative to path, nearest first.
func (e *Engine) Descendants(ctx context.Context, path Path) (out []tree.Ranked[Path], err error) {
	ctx, span := e.tracer.Start(ctx, "Descendants")
	defer tree.EndSpan(span, &err)
	defer tree.Observe(engineName, "descendants", time.Now(), &err)

	if err := checkPath(path); err != nil {
		return nil, err
	}
	err = e.view(ctx, func(t *txn) error {
		if _, err := t.value(path); err != nil {
			return err
		}
		below, err := t.scan(path)
		if err != nil {
			return err
		}
		for _, n := range below {
			if len(n.Path) == len(path) {
				continue
			}
			out = append(out, tree.Ranked[Path]{Key: n.Path, Distance: n.Path.Depth() - path.Depth()})
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("descendants of %s: %w", path, err)
	}
	return out, nil
}

func (e *Engine) DescendantsAt(ctx context.Context, path Path, distance int) ([]Path, error) {
	all, err := e.Descendants(ctx, path)
	if err != nil {
		return nil, err
	}
	return tree.AtDistance(all, distance), nil
}

// Parent is pure path algebra: path without its last segment, or false for
// a root path. The parent is not looked up in the store.
func (e *Engine) Parent(ctx context.Context, path Path) (Path, bool, error) {
	if err := checkPath(path); err != nil {
		return nil, false, err
	}
	p, ok := path.Parent()
	return p, ok, nil
}

// Ancestors walks parent(parent(...)) up from path, distance 1 first,
// reporting the stored chain members. The walk ends at the root or at the
// first ancestor path that is not stored.
func (e *Engine) Ancestors(ctx context.Context, path Path) (out []tree.Ranked[Path], err error) {
	ctx, span := e.tracer.Start(ctx, "Ancestors")
	defer tree.EndSpan(span, &err)
	defer tree.Observe(engineName, "ancestors", time.Now(), &err)

	if err := checkPath(path); err != nil {
		return nil, err
	}
	err = e.view(ctx, func(t *txn) error {
		if _, err := t.value(path); err != nil {
			return err
		}
		out, err = ancestors(path, t.has)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ancestors of %s: %w", path, err)
	}
	return out, nil
}

func (e *Engine) AncestorAt(ctx context.Context, path Path, distance int) (Path, bool, error) {
	all, err := e.Ancestors(ctx, path)
	if err != nil {
		return nil, false, err
	}
	if ps := tree.AtDistance(all, distance); len(ps) > 0 {
		return ps[0], true, nil
	}
	return nil, false, nil
}

// Depth is the segment count of path less one. It does not touch the store.
func (e *Engine) Depth(ctx context.Context, path Path) (int, error) {
	if err := checkPath(path); err != nil {
		return 0, err
	}
	return path.Depth(), nil
}

// Siblings returns every stored path at the same depth as path, in key
// order. Whether path itself is included follows Options.Siblings.
func (e *Engine) Siblings(ctx context.Context, path Path) (out []Path, err error) {
	ctx, span := e.tracer.Start(ctx, "Siblings")
	defer tree.EndSpan(span, &err)
	defer tree.Observe(engineName, "siblings", time.Now(), &err)

	if err := checkPath(path); err != nil {
		return nil, err
	}
	err = e.view(ctx, func(t *txn) error {
		if _, err := t.value(path); err != nil {
			return err
		}
		all, err := t.scan(nil)
		if err != nil {
			return err
		}
		for _, n := range all {
			if n.Path.Depth() != path.Depth() {
				continue
			}
			if e.opts.Siblings == tree.SiblingsExclusive && n.Path.Equal(path) {
				continue
			}
			out = append(out, n.Path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("siblings of %s: %w", path, err)
	}
	return out, nil
}

// ancestors is shared by queries and Check. has reports whether a path is
// stored.
func ancestors(path Path, has func(Path) (bool, error)) ([]tree.Ranked[Path], error) {
	var out []tree.Ranked[Path]
	cur := path
	for dist := 1; ; dist++ {
		p, ok := cur.Parent()
		if !ok {
			return out, nil
		}
		stored, err := has(p)
		if err != nil {
			return nil, err
		}
		if !stored {
			return out, nil
		}
		out = append(out, tree.Ranked[Path]{Key: p, Distance: dist})
		cur = p
	}
}
