package pptree

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/bluesky-social/arbor/kv"
	"github.com/bluesky-social/arbor/tree"
	lru "github.com/hashicorp/golang-lru/v2"
)

// txn runs the engine algorithms against one store transaction. w is nil in
// views; cache is nil in updates.
type txn struct {
	r     kv.Reader
	w     kv.Writer
	cache *lru.Cache[tree.NodeID, Node]
}

func (t *txn) node(id tree.NodeID) (Node, error) {
	if t.cache != nil {
		if n, ok := t.cache.Get(id); ok {
			return n, nil
		}
	}
	val, err := t.r.Get(makeNodeKey(id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Node{}, fmt.Errorf("node %d: %w", id, tree.ErrNotFound)
		}
		return Node{}, err
	}
	n, err := decodeNode(id, val)
	if err != nil {
		return Node{}, err
	}
	if t.cache != nil {
		t.cache.Add(id, n)
	}
	return n, nil
}

func (t *txn) all() ([]Node, error) {
	var out []Node
	err := t.r.Scan([]byte{nodePrefix}, func(key, val []byte) error {
		n, err := decodeNode(parseNodeKey(key), val)
		if err != nil {
			return err
		}
		out = append(out, n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// children reads the child index, ordered by id.
func (t *txn) children(parent tree.NodeID) ([]tree.NodeID, error) {
	var out []tree.NodeID
	err := t.r.Scan(makeChildPrefix(parent), func(key, _ []byte) error {
		_, child := parseChildKey(key)
		out = append(out, child)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tree.SortIDs(out), nil
}

func (t *txn) put(n *Node) error {
	return t.w.Set(makeNodeKey(n.ID), encodeNode(n))
}

func (t *txn) insert(id tree.NodeID, parent *tree.NodeID, value tree.Value) error {
	ok, err := kv.Has(t.w, makeNodeKey(id))
	if err != nil {
		return err
	}
	if ok {
		return tree.ErrDuplicateIdentity
	}

	n := &Node{ID: id, Value: value}
	if parent != nil {
		n.HasParent = true
		n.Parent = *parent
	}
	if err := t.put(n); err != nil {
		return err
	}
	if n.HasParent {
		return t.w.Set(makeChildKey(n.Parent, id), present)
	}
	return nil
}

// remove splices id out of the tree and returns the removed node and the
// number of children promoted to its parent.
func (t *txn) remove(id tree.NodeID) (Node, int, error) {
	n, err := t.node(id)
	if err != nil {
		return Node{}, 0, err
	}
	kids, err := t.children(id)
	if err != nil {
		return Node{}, 0, err
	}
	if !n.HasParent && len(kids) > 1 {
		return Node{}, 0, tree.ErrAmbiguousRootRemoval
	}

	promoted := 0
	for _, kid := range kids {
		if err := t.w.Delete(makeChildKey(id, kid)); err != nil {
			return Node{}, 0, err
		}
		if kid == id {
			// self-referencing node, it goes away with the delete below
			continue
		}
		c, err := t.node(kid)
		if err != nil {
			if isNotFound(err) {
				// stale index row
				continue
			}
			return Node{}, 0, err
		}
		c.HasParent = n.HasParent
		c.Parent = n.Parent
		if err := t.put(&c); err != nil {
			return Node{}, 0, err
		}
		if c.HasParent {
			if err := t.w.Set(makeChildKey(c.Parent, kid), present); err != nil {
				return Node{}, 0, err
			}
		}
		promoted++
	}

	if n.HasParent {
		if err := t.w.Delete(makeChildKey(n.Parent, id)); err != nil {
			return Node{}, 0, err
		}
	}
	if err := t.w.Delete(makeNodeKey(id)); err != nil {
		return Node{}, 0, err
	}
	return n, promoted, nil
}

// reparent points id at newParent and keeps its children attached.
func (t *txn) reparent(id, newParent tree.NodeID) error {
	n, err := t.node(id)
	if err != nil {
		return err
	}
	if newParent == id {
		return fmt.Errorf("node %d under itself: %w", id, tree.ErrCycleDetected)
	}
	ups, err := t.ancestors(newParent)
	if err != nil && !isNotFound(err) {
		return err
	}
	for _, a := range ups {
		if a.Key == id {
			return fmt.Errorf("%d is below %d: %w", newParent, id, tree.ErrCycleDetected)
		}
	}

	if n.HasParent {
		if err := t.w.Delete(makeChildKey(n.Parent, id)); err != nil {
			return err
		}
	}
	n.HasParent = true
	n.Parent = newParent
	if err := t.put(&n); err != nil {
		return err
	}
	return t.w.Set(makeChildKey(newParent, id), present)
}

// subtree expands everything below id breadth first. Distances are relative
// to id, which is not part of the result.
func (t *txn) subtree(id tree.NodeID) ([]tree.Ranked[tree.NodeID], error) {
	visited := map[tree.NodeID]struct{}{id: {}}
	frontier := []tree.NodeID{id}

	var out []tree.Ranked[tree.NodeID]
	for dist := 1; len(frontier) > 0; dist++ {
		var next []tree.NodeID
		for _, p := range frontier {
			kids, err := t.children(p)
			if err != nil {
				return nil, err
			}
			for _, kid := range kids {
				if _, ok := visited[kid]; ok {
					return nil, fmt.Errorf("node %d reached twice below %d: %w", kid, id, tree.ErrCycleDetected)
				}
				visited[kid] = struct{}{}
				out = append(out, tree.Ranked[tree.NodeID]{Key: kid, Distance: dist})
				next = append(next, kid)
			}
		}
		frontier = next
	}
	return out, nil
}

func (t *txn) ancestors(id tree.NodeID) ([]tree.Ranked[tree.NodeID], error) {
	cur, err := t.node(id)
	if err != nil {
		return nil, err
	}

	visited := map[tree.NodeID]struct{}{id: {}}
	var out []tree.Ranked[tree.NodeID]
	for dist := 1; cur.HasParent; dist++ {
		p, err := t.node(cur.Parent)
		if err != nil {
			if isNotFound(err) {
				break
			}
			return nil, err
		}
		if _, ok := visited[p.ID]; ok {
			return nil, fmt.Errorf("node %d is its own ancestor: %w", p.ID, tree.ErrCycleDetected)
		}
		visited[p.ID] = struct{}{}
		out = append(out, tree.Ranked[tree.NodeID]{Key: p.ID, Distance: dist})
		cur = p
	}
	return out, nil
}

func (t *txn) roots() ([]tree.NodeID, error) {
	nodes, err := t.all()
	if err != nil {
		return nil, err
	}
	var out []tree.NodeID
	for _, n := range nodes {
		if !n.HasParent {
			out = append(out, n.ID)
		}
	}
	return out, nil
}

// siblings collects the nodes at id's depth by expanding from every root.
func (t *txn) siblings(id tree.NodeID, policy tree.SiblingPolicy) ([]tree.NodeID, error) {
	ups, err := t.ancestors(id)
	if err != nil {
		return nil, err
	}
	depth := len(ups)

	roots, err := t.roots()
	if err != nil {
		return nil, err
	}

	var out []tree.NodeID
	for _, r := range roots {
		if depth == 0 {
			out = append(out, r)
			continue
		}
		below, err := t.subtree(r)
		if err != nil {
			return nil, err
		}
		out = append(out, tree.AtDistance(below, depth)...)
	}

	if policy == tree.SiblingsExclusive {
		kept := out[:0]
		for _, s := range out {
			if s != id {
				kept = append(kept, s)
			}
		}
		out = kept
	} else if !slices.Contains(out, id) {
		// a dangling parent cuts id's chain short, so the walk from the
		// roots never reaches it
		out = append(out, id)
	}
	return tree.SortIDs(out), nil
}
