package mptree

import (
	"testing"

	"github.com/bluesky-social/arbor/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathAlgebra(t *testing.T) {
	assert := assert.New(t)

	p := P(1, 3, 5, 7)
	assert.Equal(3, p.Depth())
	assert.Equal(0, P(1).Depth())
	assert.Equal(tree.NodeID(7), p.ID())

	parent, ok := p.Parent()
	assert.True(ok)
	assert.Equal(P(1, 3, 5), parent)
	_, ok = P(1).Parent()
	assert.False(ok)

	// appending to a parent must not clobber the child it came from
	sib := parent.Child(9)
	assert.Equal(P(1, 3, 5, 9), sib)
	assert.Equal(P(1, 3, 5, 7), p)

	assert.True(p.HasPrefix(P(1, 3)))
	assert.True(p.HasPrefix(p))
	assert.False(P(1, 33).HasPrefix(P(1, 3)))
	assert.False(P(1).HasPrefix(P(1, 3)))

	assert.Equal(P(1, 5, 7), p.Rebase(P(1, 3), P(1)))
	assert.Equal(P(2, 9, 5, 7), p.Rebase(P(1, 3), P(2, 9)))
}

func TestPathText(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("1.3.5", P(1, 3, 5).String())
	assert.Equal("1/3/5", P(1, 3, 5).Format("/"))

	p, err := ParsePath("1/3/-5", "/")
	require.NoError(t, err)
	assert.Equal(P(1, 3, -5), p)

	_, err = ParsePath("", ".")
	assert.ErrorIs(err, tree.ErrInvalidPath)
	_, err = ParsePath("1..3", ".")
	assert.ErrorIs(err, tree.ErrInvalidPath)
	_, err = ParsePath("1.x", ".")
	assert.ErrorIs(err, tree.ErrInvalidPath)
}

func TestPathKeys(t *testing.T) {
	assert := assert.New(t)

	p := P(1, 3, 5)
	assert.Equal(p, parsePathKey(makePathKey(p)))

	// byte prefixes are segment aligned: 1.3 is not a prefix of 1.33
	k3 := makePathKey(P(1, 3))
	k33 := makePathKey(P(1, 33))
	assert.NotEqual(k3, k33[:len(k3)])
	assert.Equal(k3, makePathKey(p)[:len(k3)])

	v, err := decodeValue(p, encodeValue(-333))
	assert.NoError(err)
	assert.Equal(tree.Value(-333), v)

	assert.Panics(func() { parsePathKey([]byte{'P', 1}) })
}
