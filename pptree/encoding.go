package pptree

import (
	"encoding/binary"
	"fmt"

	"github.com/bluesky-social/arbor/tree"
)

// Inner schema:
// N{uint64 id} : {uint8 flags}{uint64 parent}{int64 value}
// C{uint64 parent}{uint64 child} : {}
//
// The C rows index children by parent and are written in the same
// transaction as the N rows they mirror.

const (
	nodePrefix  = 'N'
	childPrefix = 'C'

	flagHasParent = 1 << 0

	recordLen = 1 + 8 + 8
)

// present is the value of a child index row.
var present = []byte{}

func makeNodeKey(id tree.NodeID) []byte {
	out := make([]byte, 1+8)
	out[0] = nodePrefix
	binary.BigEndian.PutUint64(out[1:], uint64(id))
	return out
}

func parseNodeKey(key []byte) tree.NodeID {
	if len(key) != 9 || key[0] != nodePrefix {
		panic(fmt.Sprintf("node key wanted N got %v", key))
	}
	return tree.NodeID(binary.BigEndian.Uint64(key[1:]))
}

func makeChildPrefix(parent tree.NodeID) []byte {
	out := make([]byte, 1+8)
	out[0] = childPrefix
	binary.BigEndian.PutUint64(out[1:], uint64(parent))
	return out
}

func makeChildKey(parent, child tree.NodeID) []byte {
	out := make([]byte, 1+8+8)
	out[0] = childPrefix
	binary.BigEndian.PutUint64(out[1:], uint64(parent))
	binary.BigEndian.PutUint64(out[9:], uint64(child))
	return out
}

func parseChildKey(key []byte) (parent, child tree.NodeID) {
	if len(key) != 17 || key[0] != childPrefix {
		panic(fmt.Sprintf("child key wanted C got %v", key))
	}
	parent = tree.NodeID(binary.BigEndian.Uint64(key[1:9]))
	child = tree.NodeID(binary.BigEndian.Uint64(key[9:]))
	return parent, child
}

func encodeNode(n *Node) []byte {
	out := make([]byte, recordLen)
	if n.HasParent {
		out[0] |= flagHasParent
	}
	binary.BigEndian.PutUint64(out[1:9], uint64(n.Parent))
	binary.BigEndian.PutUint64(out[9:17], uint64(n.Value))
	return out
}

func decodeNode(id tree.NodeID, val []byte) (Node, error) {
	if len(val) != recordLen {
		return Node{}, fmt.Errorf("node %d: bad record length %d", id, len(val))
	}
	return Node{
		ID:        id,
		HasParent: val[0]&flagHasParent != 0,
		Parent:    tree.NodeID(binary.BigEndian.Uint64(val[1:9])),
		Value:     tree.Value(binary.BigEndian.Uint64(val[9:17])),
	}, nil
}
