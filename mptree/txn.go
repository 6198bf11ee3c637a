package mptree

import (
	"errors"
	"fmt"

	"github.com/bluesky-social/arbor/kv"
	"github.com/bluesky-social/arbor/tree"
)

// txn runs the engine algorithms against one store transaction. w is nil in
// views.
type txn struct {
	r kv.Reader
	w kv.Writer
}

func (t *txn) value(p Path) (tree.Value, error) {
	val, err := t.r.Get(makePathKey(p))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, fmt.Errorf("path %s: %w", p, tree.ErrNotFound)
		}
		return 0, err
	}
	return decodeValue(p, val)
}

func (t *txn) has(p Path) (bool, error) {
	return kv.Has(t.r, makePathKey(p))
}

// scan returns prefix and every stored path below it in key order. A nil
// prefix scans the whole tree.
func (t *txn) scan(prefix Path) ([]Node, error) {
	start := []byte{pathPrefix}
	if len(prefix) > 0 {
		start = makePathKey(prefix)
	}

	var out []Node
	err := t.r.Scan(start, func(key, val []byte) error {
		p := parsePathKey(key)
		v, err := decodeValue(p, val)
		if err != nil {
			return err
		}
		out = append(out, Node{Path: p, Value: v})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *txn) push(p Path, v tree.Value) error {
	ok, err := t.has(p)
	if err != nil {
		return err
	}
	if ok {
		return tree.ErrDuplicateIdentity
	}
	return t.w.Set(makePathKey(p), encodeValue(v))
}

// rewrite deletes every node in nodes, then stores each one again at the
// path produced by moveTo. Deleting first means a new key can only collide
// with a node outside the set, which fails with tree.ErrDuplicateIdentity
// and aborts the transaction.
func (t *txn) rewrite(nodes []Node, moveTo func(Path) Path) error {
	for _, n := range nodes {
		if err := t.w.Delete(makePathKey(n.Path)); err != nil {
			return err
		}
	}
	for _, n := range nodes {
		np := moveTo(n.Path)
		if err := t.push(np, n.Value); err != nil {
			if errors.Is(err, tree.ErrDuplicateIdentity) {
				return fmt.Errorf("rewriting %s to %s: %w", n.Path, np, err)
			}
			return err
		}
	}
	return nil
}

// remove deletes the node at p and promotes its descendants one level. It
// returns the removed value and the number of descendants rewritten.
func (t *txn) remove(p Path) (tree.Value, int, error) {
	v, err := t.value(p)
	if err != nil {
		return 0, 0, err
	}
	below, err := t.scan(p)
	if err != nil {
		return 0, 0, err
	}
	// scan leads with p itself
	desc := below[1:]

	parent, isChild := p.Parent()
	if !isChild {
		direct := 0
		for _, d := range desc {
			if len(d.Path) == len(p)+1 {
				direct++
			}
		}
		if direct > 1 {
			return 0, 0, tree.ErrAmbiguousRootRemoval
		}
	}

	if err := t.w.Delete(makePathKey(p)); err != nil {
		return 0, 0, err
	}
	err = t.rewrite(desc, func(d Path) Path {
		return d.Rebase(p, parent)
	})
	if err != nil {
		return 0, 0, err
	}
	return v, len(desc), nil
}

// relocate moves the node at p and its whole subtree to newPath.
func (t *txn) relocate(p, newPath Path) error {
	if newPath.Equal(p) {
		_, err := t.value(p)
		return err
	}
	if newPath.HasPrefix(p) {
		return fmt.Errorf("%s is below %s: %w", newPath, p, tree.ErrCycleDetected)
	}
	if _, err := t.value(p); err != nil {
		return err
	}
	below, err := t.scan(p)
	if err != nil {
		return err
	}
	return t.rewrite(below, func(d Path) Path {
		return d.Rebase(p, newPath)
	})
}
