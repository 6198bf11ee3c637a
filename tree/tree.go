// Package tree holds the types shared by the parent-pointer and
// materialized-path tree engines.
package tree

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// NodeID identifies a node. In the materialized-path encoding it is also
// the path segment contributed by the node.
type NodeID int64

// Value is the payload carried by a node.
type Value int64

var (
	ErrDuplicateIdentity    = errors.New("node identity already present")
	ErrAmbiguousRootRemoval = errors.New("root has more than one child")
	ErrCycleDetected        = errors.New("cycle detected")
	ErrNotFound             = errors.New("node not found")
	ErrInvalidPath          = errors.New("invalid path")
)

// Ranked is a query result tagged with its distance from the node the query
// started at.
type Ranked[K any] struct {
	Key      K
	Distance int
}

func (r Ranked[K]) String() string {
	return fmt.Sprintf("%v@%d", r.Key, r.Distance)
}

// Keys strips the distance tags.
func Keys[K any](rs []Ranked[K]) []K {
	out := make([]K, len(rs))
	for i, r := range rs {
		out[i] = r.Key
	}
	return out
}

// AtDistance returns the keys of the results whose distance is d, preserving
// order.
func AtDistance[K any](rs []Ranked[K], d int) []K {
	var out []K
	for _, r := range rs {
		if r.Distance == d {
			out = append(out, r.Key)
		}
	}
	return out
}

// SortIDs sorts ids ascending in place and returns them.
func SortIDs(ids []NodeID) []NodeID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SiblingPolicy selects whether a siblings query reports the node it was
// asked about.
type SiblingPolicy int

const (
	// SiblingsInclusive reports the queried node among its siblings.
	SiblingsInclusive SiblingPolicy = iota
	// SiblingsExclusive leaves the queried node out.
	SiblingsExclusive
)

func (p SiblingPolicy) String() string {
	switch p {
	case SiblingsInclusive:
		return "inclusive"
	case SiblingsExclusive:
		return "exclusive"
	default:
		return fmt.Sprintf("SiblingPolicy(%d)", int(p))
	}
}

// ParseSiblingPolicy accepts the names produced by SiblingPolicy.String.
func ParseSiblingPolicy(s string) (SiblingPolicy, error) {
	switch s {
	case "inclusive":
		return SiblingsInclusive, nil
	case "exclusive":
		return SiblingsExclusive, nil
	default:
		return 0, fmt.Errorf("unknown sibling policy %q", s)
	}
}

// MovePolicy selects what happens to the children of a relocated node.
type MovePolicy int

const (
	// MoveDetach relocates the node alone. It is remove followed by
	// re-insert, so the node's children are left at the old location,
	// promoted to the node's former parent.
	MoveDetach MovePolicy = iota
	// MoveSubtree relocates the node together with all of its descendants.
	MoveSubtree
)

func (p MovePolicy) String() string {
	switch p {
	case MoveDetach:
		return "detach"
	case MoveSubtree:
		return "subtree"
	default:
		return fmt.Sprintf("MovePolicy(%d)", int(p))
	}
}

// ParseMovePolicy accepts the names produced by MovePolicy.String.
func ParseMovePolicy(s string) (MovePolicy, error) {
	switch s {
	case "", "detach":
		return MoveDetach, nil
	case "subtree":
		return MoveSubtree, nil
	default:
		return 0, fmt.Errorf("unknown move policy %q", s)
	}
}

// Report is the outcome of an integrity check.
type Report struct {
	OK bool

	Nodes   int
	Visited int

	// Roots lists the nodes found at depth 0.
	Roots []string

	// Problems holds one human readable line per violation found.
	Problems []string
}

// Failf records a violation and marks the report as failed.
func (r *Report) Failf(format string, args ...any) {
	r.OK = false
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// Engine is the operation set both encodings provide, keyed by K. Inserting
// and moving take encoding specific arguments and live on the concrete
// engines.
type Engine[K any] interface {
	Remove(ctx context.Context, key K) error
	Descendants(ctx context.Context, key K) ([]Ranked[K], error)
	DescendantsAt(ctx context.Context, key K, distance int) ([]K, error)
	Parent(ctx context.Context, key K) (K, bool, error)
	Ancestors(ctx context.Context, key K) ([]Ranked[K], error)
	AncestorAt(ctx context.Context, key K, distance int) (K, bool, error)
	Siblings(ctx context.Context, key K) ([]K, error)
	Depth(ctx context.Context, key K) (int, error)
	Check(ctx context.Context) (*Report, error)
	Close() error
}
