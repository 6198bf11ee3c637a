// Package pptree is the parent-pointer tree engine: every node stores the id
// of its parent, and everything else (children, depth, subtrees) is derived
// by walking those links.
package pptree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bluesky-social/arbor/kv"
	"github.com/bluesky-social/arbor/tree"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const engineName = "pptree"

// Node is one stored node. A node without a parent is a root.
type Node struct {
	ID        tree.NodeID
	HasParent bool
	Parent    tree.NodeID
	Value     tree.Value
}

// ParentID returns the parent id, or false for a root.
func (n Node) ParentID() (tree.NodeID, bool) {
	return n.Parent, n.HasParent
}

// Under is shorthand for the parent argument of Insert.
func Under(parent tree.NodeID) *tree.NodeID {
	return &parent
}

type Options struct {
	// Siblings defaults to tree.SiblingsInclusive: a node is reported as
	// its own sibling.
	Siblings tree.SiblingPolicy

	Move tree.MovePolicy

	// CacheSize bounds the node record cache used by queries. Zero
	// disables it.
	CacheSize int

	Logger *slog.Logger

	// TracerProvider defaults to the global otel provider.
	TracerProvider trace.TracerProvider
}

func DefaultOptions() Options {
	return Options{
		Siblings:  tree.SiblingsInclusive,
		Move:      tree.MoveDetach,
		CacheSize: 10_000,
	}
}

// Engine is safe for concurrent use. Writers are serialized and each public
// operation runs in a single store transaction.
type Engine struct {
	store  kv.Store
	opts   Options
	log    *slog.Logger
	tracer trace.Tracer

	// lk orders cache fills (under RLock) against commits (under Lock)
	lk    sync.RWMutex
	cache *lru.Cache[tree.NodeID, Node]
}

var _ tree.Engine[tree.NodeID] = (*Engine)(nil)

// Open takes ownership of store; Close closes it.
func Open(store kv.Store, opts Options) (*Engine, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	e := &Engine{
		store:  store,
		opts:   opts,
		log:    log.With("system", engineName),
		tracer: tp.Tracer(engineName),
	}
	if opts.CacheSize > 0 {
		c, err := lru.New[tree.NodeID, Node](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("node cache: %w", err)
		}
		e.cache = c
	}
	return e, nil
}

func (e *Engine) Close() error {
	return e.store.Close()
}

func (e *Engine) view(ctx context.Context, fn func(*txn) error) error {
	e.lk.RLock()
	defer e.lk.RUnlock()
	return e.store.View(ctx, func(r kv.Reader) error {
		return fn(&txn{r: r, cache: e.cache})
	})
}

func (e *Engine) update(ctx context.Context, fn func(*txn) error) error {
	e.lk.Lock()
	defer e.lk.Unlock()
	err := e.store.Update(ctx, func(w kv.Writer) error {
		return fn(&txn{r: w, w: w})
	})
	if err == nil && e.cache != nil {
		e.cache.Purge()
	}
	return err
}

// Insert adds a node under parent, or a root when parent is nil. The parent
// is not required to exist; a dangling parent is only reported by Check.
func (e *Engine) Insert(ctx context.Context, id tree.NodeID, parent *tree.NodeID, value tree.Value) (err error) {
	ctx, span := e.tracer.Start(ctx, "Insert")
	defer tree.EndSpan(span, &err)
	span.SetAttributes(attribute.Int64("id", int64(id)))
	defer tree.Observe(engineName, "insert", time.Now(), &err)

	err = e.update(ctx, func(t *txn) error {
		return t.insert(id, parent, value)
	})
	if err != nil {
		return fmt.Errorf("insert %d: %w", id, err)
	}
	e.log.Debug("inserted node", "id", id, "parent", fmtParent(parent), "value", value)
	return nil
}

// Remove splices the node out: its direct children are reparented to its
// former parent, then the node is deleted. A root may only be removed when
// it has at most one child, which then becomes the root.
func (e *Engine) Remove(ctx context.Context, id tree.NodeID) (err error) {
	ctx, span := e.tracer.Start(ctx, "Remove")
	defer tree.EndSpan(span, &err)
	span.SetAttributes(attribute.Int64("id", int64(id)))
	defer tree.Observe(engineName, "remove", time.Now(), &err)

	var promoted int
	err = e.update(ctx, func(t *txn) error {
		_, n, err := t.remove(id)
		promoted = n
		return err
	})
	if err != nil {
		return fmt.Errorf("remove %d: %w", id, err)
	}
	e.log.Debug("removed node", "id", id, "promoted", promoted)
	return nil
}

// Move relocates id under newParent. With tree.MoveDetach it is Remove
// followed by Insert with the same value, so the node's children stay
// behind, promoted to its old parent. With tree.MoveSubtree the node keeps
// its children, and moving a node below itself fails with
// tree.ErrCycleDetected.
func (e *Engine) Move(ctx context.Context, id, newParent tree.NodeID) (err error) {
	ctx, span := e.tracer.Start(ctx, "Move")
	defer tree.EndSpan(span, &err)
	span.SetAttributes(attribute.Int64("id", int64(id)), attribute.Int64("parent", int64(newParent)))
	defer tree.Observe(engineName, "move", time.Now(), &err)

	err = e.update(ctx, func(t *txn) error {
		switch e.opts.Move {
		case tree.MoveSubtree:
			return t.reparent(id, newParent)
		default:
			n, _, err := t.remove(id)
			if err != nil {
				return err
			}
			return t.insert(id, &newParent, n.Value)
		}
	})
	if err != nil {
		return fmt.Errorf("move %d to %d: %w", id, newParent, err)
	}
	e.log.Debug("moved node", "id", id, "parent", newParent, "policy", e.opts.Move)
	return nil
}

// Get returns the stored node.
func (e *Engine) Get(ctx context.Context, id tree.NodeID) (Node, error) {
	var n Node
	err := e.view(ctx, func(t *txn) error {
		var err error
		n, err = t.node(id)
		return err
	})
	return n, err
}

// Nodes returns every stored node ordered by id.
func (e *Engine) Nodes(ctx context.Context) ([]Node, error) {
	var out []Node
	err := e.view(ctx, func(t *txn) error {
		var err error
		out, err = t.all()
		return err
	})
	return out, err
}

// Descendants returns every node below id, tagged with its distance from
// id, nearest first. A node reached twice means the links form a cycle and
// fails with tree.ErrCycleDetected instead of looping.
func (e *Engine) Descendants(ctx context.Context, id tree.NodeID) (out []tree.Ranked[tree.NodeID], err error) {
	ctx, span := e.tracer.Start(ctx, "Descendants")
	defer tree.EndSpan(span, &err)
	defer tree.Observe(engineName, "descendants", time.Now(), &err)

	err = e.view(ctx, func(t *txn) error {
		if _, err := t.node(id); err != nil {
			return err
		}
		out, err = t.subtree(id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("descendants of %d: %w", id, err)
	}
	return out, nil
}

func (e *Engine) DescendantsAt(ctx context.Context, id tree.NodeID, distance int) ([]tree.NodeID, error) {
	all, err := e.Descendants(ctx, id)
	if err != nil {
		return nil, err
	}
	return tree.AtDistance(all, distance), nil
}

// Parent returns the parent id, or false when id is a root.
func (e *Engine) Parent(ctx context.Context, id tree.NodeID) (tree.NodeID, bool, error) {
	n, err := e.Get(ctx, id)
	if err != nil {
		return 0, false, fmt.Errorf("parent of %d: %w", id, err)
	}
	p, ok := n.ParentID()
	return p, ok, nil
}

// Ancestors walks up from id's parent, distance 1 first. The walk ends at a
// root or at a parent that is not stored.
func (e *Engine) Ancestors(ctx context.Context, id tree.NodeID) (out []tree.Ranked[tree.NodeID], err error) {
	ctx, span := e.tracer.Start(ctx, "Ancestors")
	defer tree.EndSpan(span, &err)
	defer tree.Observe(engineName, "ancestors", time.Now(), &err)

	err = e.view(ctx, func(t *txn) error {
		out, err = t.ancestors(id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ancestors of %d: %w", id, err)
	}
	return out, nil
}

func (e *Engine) AncestorAt(ctx context.Context, id tree.NodeID, distance int) (tree.NodeID, bool, error) {
	all, err := e.Ancestors(ctx, id)
	if err != nil {
		return 0, false, err
	}
	if ids := tree.AtDistance(all, distance); len(ids) > 0 {
		return ids[0], true, nil
	}
	return 0, false, nil
}

// Depth is the number of ancestors of id.
func (e *Engine) Depth(ctx context.Context, id tree.NodeID) (int, error) {
	all, err := e.Ancestors(ctx, id)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// Siblings returns every node, anywhere in the tree, at the same depth as
// id, ordered by id. Whether id itself is included follows
// Options.Siblings.
func (e *Engine) Siblings(ctx context.Context, id tree.NodeID) (out []tree.NodeID, err error) {
	ctx, span := e.tracer.Start(ctx, "Siblings")
	defer tree.EndSpan(span, &err)
	defer tree.Observe(engineName, "siblings", time.Now(), &err)

	err = e.view(ctx, func(t *txn) error {
		out, err = t.siblings(id, e.opts.Siblings)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("siblings of %d: %w", id, err)
	}
	return out, nil
}

func fmtParent(p *tree.NodeID) any {
	if p == nil {
		return "none"
	}
	return *p
}

func isNotFound(err error) bool {
	return errors.Is(err, tree.ErrNotFound)
}
