package mptree

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/bluesky-social/arbor/tree"
)

const DefaultSeparator = "."

// Path is a node's ancestor chain, root first, ending with the node itself.
type Path []tree.NodeID

// P builds a path from its segments.
func P(segs ...tree.NodeID) Path {
	return Path(segs)
}

// Depth is the number of segments between the root and the node: 0 for the
// root, -1 for the empty path.
func (p Path) Depth() int {
	return len(p) - 1
}

// ID is the node's own segment.
func (p Path) ID() tree.NodeID {
	return p[len(p)-1]
}

// Parent drops the last segment. A root has no parent.
func (p Path) Parent() (Path, bool) {
	if len(p) < 2 {
		return nil, false
	}
	return p[:len(p)-1:len(p)-1], true
}

func (p Path) Child(id tree.NodeID) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = id
	return out
}

func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix's segments open p. A path is a prefix of
// itself.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	return p[:len(prefix)].Equal(prefix)
}

// Rebase swaps the leading from segments of p for to. p must have from as a
// prefix.
func (p Path) Rebase(from, to Path) Path {
	out := make(Path, 0, len(to)+len(p)-len(from))
	out = append(out, to...)
	return append(out, p[len(from):]...)
}

// Format joins the segments with sep.
func (p Path) Format(sep string) string {
	var sb strings.Builder
	for i, s := range p {
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(strconv.FormatInt(int64(s), 10))
	}
	return sb.String()
}

func (p Path) String() string {
	return p.Format(DefaultSeparator)
}

// ParsePath reads the text form written by Format.
func ParsePath(s, sep string) (Path, error) {
	if sep == "" {
		return nil, fmt.Errorf("%w: empty separator", tree.ErrInvalidPath)
	}
	if s == "" {
		return nil, fmt.Errorf("%w: empty path", tree.ErrInvalidPath)
	}
	parts := strings.Split(s, sep)
	out := make(Path, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %d of %q: %w", tree.ErrInvalidPath, i, s, err)
		}
		out[i] = tree.NodeID(v)
	}
	return out, nil
}

// Inner schema:
// P{uint64 seg}{uint64 seg}... : {int64 value}
//
// Fixed width segments keep byte prefixes aligned to segment boundaries, so
// a prefix scan over a path's key finds exactly its subtree.

const pathPrefix = 'P'

func makePathKey(p Path) []byte {
	out := make([]byte, 1+8*len(p))
	out[0] = pathPrefix
	for i, s := range p {
		binary.BigEndian.PutUint64(out[1+8*i:], uint64(s))
	}
	return out
}

func parsePathKey(key []byte) Path {
	if len(key) < 9 || key[0] != pathPrefix || (len(key)-1)%8 != 0 {
		panic(fmt.Sprintf("path key wanted P got %v", key))
	}
	out := make(Path, (len(key)-1)/8)
	for i := range out {
		out[i] = tree.NodeID(binary.BigEndian.Uint64(key[1+8*i:]))
	}
	return out
}

func encodeValue(v tree.Value) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, uint64(v))
	return out
}

func decodeValue(p Path, val []byte) (tree.Value, error) {
	if len(val) != 8 {
		return 0, fmt.Errorf("path %s: bad value length %d", p, len(val))
	}
	return tree.Value(binary.BigEndian.Uint64(val)), nil
}
