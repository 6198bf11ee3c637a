package mptree_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/bluesky-social/arbor/kv/kvtest"
	"github.com/bluesky-social/arbor/mptree"
	"github.com/bluesky-social/arbor/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/sync/errgroup"
)

var P = mptree.P

func openEngine(t *testing.T, open kvtest.Factory, opts mptree.Options) *mptree.Engine {
	t.Helper()
	opts.Logger = kvtest.Logger(t)
	e, err := mptree.Open(open(t), opts)
	require.NoError(t, err)
	return e
}

// loadSample builds
//
//	1(0) -> 2(6), 3(7)
//	3    -> 4(3), 5(33), 6(333)
//	5    -> 7(55)
//	6    -> 8(66)
func loadSample(t *testing.T, e *mptree.Engine) {
	t.Helper()
	ctx := context.Background()

	for _, n := range []mptree.Node{
		{Path: P(1), Value: 0},
		{Path: P(1, 2), Value: 6},
		{Path: P(1, 3), Value: 7},
		{Path: P(1, 3, 4), Value: 3},
		{Path: P(1, 3, 5), Value: 33},
		{Path: P(1, 3, 6), Value: 333},
		{Path: P(1, 3, 5, 7), Value: 55},
		{Path: P(1, 3, 6, 8), Value: 66},
	} {
		require.NoError(t, e.Push(ctx, n.Path, n.Value))
	}
}

func requireIntact(t *testing.T, e *mptree.Engine) {
	t.Helper()
	rep, err := e.Check(context.Background())
	require.NoError(t, err)
	require.True(t, rep.OK, "problems: %v", rep.Problems)
}

func TestSampleTree(t *testing.T) {
	ctx := context.Background()

	for name, open := range kvtest.Backends {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			e := openEngine(t, open, mptree.DefaultOptions())
			loadSample(t, e)
			requireIntact(t, e)

			sibs, err := e.Siblings(ctx, P(1, 3, 4))
			require.NoError(t, err)
			assert.Equal([]mptree.Path{P(1, 3, 5), P(1, 3, 6)}, sibs)

			below, err := e.Descendants(ctx, P(1))
			require.NoError(t, err)
			assert.Len(below, 7)

			ups, err := e.Ancestors(ctx, P(1, 3, 6, 8))
			require.NoError(t, err)
			assert.Equal([]tree.Ranked[mptree.Path]{
				{Key: P(1, 3, 6), Distance: 1},
				{Key: P(1, 3), Distance: 2},
				{Key: P(1), Distance: 3},
			}, ups)

			require.NoError(t, e.Remove(ctx, P(1, 3, 6)))
			requireIntact(t, e)

			// 8 is promoted to 6's parent
			v, err := e.Get(ctx, P(1, 3, 8))
			require.NoError(t, err)
			assert.Equal(tree.Value(66), v)
			_, err = e.Get(ctx, P(1, 3, 6, 8))
			assert.ErrorIs(err, tree.ErrNotFound)

			at2, err := e.DescendantsAt(ctx, P(1, 3), 2)
			require.NoError(t, err)
			assert.Equal([]mptree.Path{P(1, 3, 5, 7)}, at2)

			a, ok, err := e.AncestorAt(ctx, P(1, 3, 5, 7), 2)
			require.NoError(t, err)
			assert.True(ok)
			assert.Equal(P(1, 3), a)

			_, ok, err = e.AncestorAt(ctx, P(1, 3, 5, 7), 4)
			require.NoError(t, err)
			assert.False(ok)

			sibs, err = e.Siblings(ctx, P(1, 3, 4))
			require.NoError(t, err)
			assert.Equal([]mptree.Path{P(1, 3, 5), P(1, 3, 8)}, sibs)

			below, err = e.Descendants(ctx, P(1, 3))
			require.NoError(t, err)
			assert.Equal([]tree.Ranked[mptree.Path]{
				{Key: P(1, 3, 4), Distance: 1},
				{Key: P(1, 3, 5), Distance: 1},
				{Key: P(1, 3, 8), Distance: 1},
				{Key: P(1, 3, 5, 7), Distance: 2},
			}, below)
		})
	}
}

func TestPathAlgebraQueries(t *testing.T) {
	ctx := context.Background()
	assert := assert.New(t)
	e := openEngine(t, kvtest.Memory, mptree.DefaultOptions())
	loadSample(t, e)

	d, err := e.Depth(ctx, P(1, 3, 5, 7))
	require.NoError(t, err)
	assert.Equal(3, d)

	p, ok, err := e.Parent(ctx, P(1, 3, 5, 7))
	require.NoError(t, err)
	assert.True(ok)
	assert.Equal(P(1, 3, 5), p)

	_, ok, err = e.Parent(ctx, P(1))
	require.NoError(t, err)
	assert.False(ok)

	_, err = e.Depth(ctx, nil)
	assert.ErrorIs(err, tree.ErrInvalidPath)
	_, err = e.Descendants(ctx, P(4, 4))
	assert.ErrorIs(err, tree.ErrNotFound)
}

func TestSiblingPolicy(t *testing.T) {
	ctx := context.Background()
	opts := mptree.DefaultOptions()
	opts.Siblings = tree.SiblingsInclusive
	e := openEngine(t, kvtest.Memory, opts)
	loadSample(t, e)

	sibs, err := e.Siblings(ctx, P(1, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, []mptree.Path{P(1, 3, 4), P(1, 3, 5), P(1, 3, 6)}, sibs)
}

func TestPushDuplicate(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t, kvtest.Memory, mptree.DefaultOptions())
	loadSample(t, e)

	err := e.Push(ctx, P(1, 3, 5), 1)
	assert.ErrorIs(t, err, tree.ErrDuplicateIdentity)

	v, err := e.Get(ctx, P(1, 3, 5))
	require.NoError(t, err)
	assert.Equal(t, tree.Value(33), v)
}

func TestRemoveRoot(t *testing.T) {
	ctx := context.Background()

	for name, open := range kvtest.Backends {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			e := openEngine(t, open, mptree.DefaultOptions())
			loadSample(t, e)

			assert.ErrorIs(e.Remove(ctx, P(1)), tree.ErrAmbiguousRootRemoval)
			requireIntact(t, e)

			require.NoError(t, e.Remove(ctx, P(1, 2)))
			require.NoError(t, e.Remove(ctx, P(1)))
			requireIntact(t, e)

			nodes, err := e.Nodes(ctx)
			require.NoError(t, err)
			var paths []mptree.Path
			for _, n := range nodes {
				paths = append(paths, n.Path)
			}
			assert.Equal([]mptree.Path{
				P(3), P(3, 4), P(3, 5), P(3, 5, 7), P(3, 6), P(3, 6, 8),
			}, paths)

			assert.ErrorIs(e.Remove(ctx, P(1)), tree.ErrNotFound)
		})
	}
}

func TestRemoveCollisionIsAtomic(t *testing.T) {
	ctx := context.Background()

	for name, open := range kvtest.Backends {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			e := openEngine(t, open, mptree.DefaultOptions())
			loadSample(t, e)

			// 1.3.4 would be promoted onto an existing 1.4
			require.NoError(t, e.Push(ctx, P(1, 4), 0))

			err := e.Remove(ctx, P(1, 3))
			assert.ErrorIs(err, tree.ErrDuplicateIdentity)

			nodes, err := e.Nodes(ctx)
			require.NoError(t, err)
			assert.Len(nodes, 9)
			_, err = e.Get(ctx, P(1, 3, 5, 7))
			assert.NoError(err)
		})
	}
}

func TestMoveLeavesChildrenBehind(t *testing.T) {
	ctx := context.Background()

	for name, open := range kvtest.Backends {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			e := openEngine(t, open, mptree.DefaultOptions())
			loadSample(t, e)

			require.NoError(t, e.Move(ctx, P(1, 3), P(1, 2, 3)))
			requireIntact(t, e)

			v, err := e.Get(ctx, P(1, 2, 3))
			require.NoError(t, err)
			assert.Equal(tree.Value(7), v)

			below, err := e.Descendants(ctx, P(1, 2, 3))
			require.NoError(t, err)
			assert.Empty(below)

			kids, err := e.DescendantsAt(ctx, P(1), 1)
			require.NoError(t, err)
			assert.Equal([]mptree.Path{P(1, 2), P(1, 4), P(1, 5), P(1, 6)}, kids)

			ups, err := e.Ancestors(ctx, P(1, 5, 7))
			require.NoError(t, err)
			assert.Equal([]mptree.Path{P(1, 5), P(1)}, tree.Keys(ups))
		})
	}
}

func TestMoveSubtree(t *testing.T) {
	ctx := context.Background()

	for name, open := range kvtest.Backends {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			opts := mptree.DefaultOptions()
			opts.Move = tree.MoveSubtree
			e := openEngine(t, open, opts)
			loadSample(t, e)

			require.NoError(t, e.Move(ctx, P(1, 3), P(1, 2, 3)))
			requireIntact(t, e)

			ups, err := e.Ancestors(ctx, P(1, 2, 3, 5, 7))
			require.NoError(t, err)
			assert.Equal([]mptree.Path{P(1, 2, 3, 5), P(1, 2, 3), P(1, 2), P(1)}, tree.Keys(ups))

			err = e.Move(ctx, P(1, 2, 3), P(1, 2, 3, 5, 3))
			assert.ErrorIs(err, tree.ErrCycleDetected)
			requireIntact(t, e)
		})
	}
}

func TestSelfReferenceFailsCheck(t *testing.T) {
	ctx := context.Background()

	for name, open := range kvtest.Backends {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			e := openEngine(t, open, mptree.DefaultOptions())
			loadSample(t, e)

			// node 3 pushed below itself; writes are not validated
			require.NoError(t, e.Push(ctx, P(1, 3, 3), 99))

			rep, err := e.Check(ctx)
			require.NoError(t, err)
			assert.False(rep.OK)
			assert.Contains(rep.Problems, "1.3.3 repeats segment 3")
			assert.Contains(rep.Problems, "node 3 ends both 1.3 and 1.3.3")
		})
	}
}

func TestSelfRootedFailsCheck(t *testing.T) {
	ctx := context.Background()
	assert := assert.New(t)
	e := openEngine(t, kvtest.Memory, mptree.DefaultOptions())
	loadSample(t, e)

	require.NoError(t, e.Push(ctx, P(9, 9), 0))

	rep, err := e.Check(ctx)
	require.NoError(t, err)
	assert.False(rep.OK)
	assert.Contains(rep.Problems, "9.9 has 0 stored ancestors at depth 1")
	assert.Equal(8, rep.Visited)
}

func TestMissingLinkFailsCheck(t *testing.T) {
	ctx := context.Background()
	assert := assert.New(t)
	e := openEngine(t, kvtest.Memory, mptree.DefaultOptions())
	loadSample(t, e)

	require.NoError(t, e.Push(ctx, P(1, 2, 10, 11), 0))

	rep, err := e.Check(ctx)
	require.NoError(t, err)
	assert.False(rep.OK)

	// stops at the first missing ancestor, 1.2.10
	ups, err := e.Ancestors(ctx, P(1, 2, 10, 11))
	require.NoError(t, err)
	assert.Empty(ups)
}

func TestSecondRootFailsCheck(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t, kvtest.Memory, mptree.DefaultOptions())
	loadSample(t, e)

	require.NoError(t, e.Push(ctx, P(30), 0))

	rep, err := e.Check(ctx)
	require.NoError(t, err)
	assert.False(t, rep.OK)
	assert.Equal(t, []string{"1", "30"}, rep.Roots)
}

func TestSeparator(t *testing.T) {
	ctx := context.Background()
	assert := assert.New(t)
	opts := mptree.DefaultOptions()
	opts.Separator = "/"
	e := openEngine(t, kvtest.Memory, opts)
	loadSample(t, e)

	p, err := e.ParsePath("1/3/5")
	require.NoError(t, err)
	assert.Equal(P(1, 3, 5), p)
	assert.Equal("1/3/5/7", e.Format(P(1, 3, 5, 7)))

	require.NoError(t, e.Push(ctx, P(1, 3, 3), 0))
	rep, err := e.Check(ctx)
	require.NoError(t, err)
	assert.Contains(rep.Problems, "1/3/3 repeats segment 3")
}

func TestConcurrentReadersSeeWholeTrees(t *testing.T) {
	for name, open := range kvtest.Backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := openEngine(t, open, mptree.DefaultOptions())
			loadSample(t, e)

			stop := make(chan struct{})
			eg, egctx := errgroup.WithContext(ctx)
			for i := 0; i < 4; i++ {
				eg.Go(func() error {
					for {
						select {
						case <-stop:
							return nil
						default:
						}

						rep, err := e.Check(ctx)
						if err != nil {
							return err
						}
						if !rep.OK {
							return fmt.Errorf("check saw a torn tree: %v", rep.Problems)
						}

						below, err := e.Descendants(ctx, P(1))
						if err != nil {
							return err
						}
						if len(below) != 7 {
							return fmt.Errorf("descendants of 1: %v", below)
						}

						// exactly one stored path ends in 3
						nodes, err := e.Nodes(ctx)
						if err != nil {
							return err
						}
						var threes []mptree.Path
						for _, n := range nodes {
							if n.Path.ID() == 3 {
								threes = append(threes, n.Path)
							}
						}
						if len(threes) != 1 || !(threes[0].Equal(P(1, 3)) || threes[0].Equal(P(1, 2, 3))) {
							return fmt.Errorf("paths of 3: %v", threes)
						}
					}
				})
			}
			eg.Go(func() error {
				defer close(stop)
				from, to := P(1, 3), P(1, 2, 3)
				for i := 0; i < 300 && egctx.Err() == nil; i++ {
					if err := e.Move(ctx, from, to); err != nil {
						return err
					}
					from, to = to, from
				}
				return nil
			})
			require.NoError(t, eg.Wait())
			requireIntact(t, e)

			v, err := e.Get(ctx, P(1, 3))
			require.NoError(t, err)
			assert.Equal(t, tree.Value(7), v)
		})
	}
}

func TestOperationsAreTraced(t *testing.T) {
	ctx := context.Background()
	assert := assert.New(t)

	rec := tracetest.NewSpanRecorder()
	opts := mptree.DefaultOptions()
	opts.TracerProvider = tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(rec))
	e := openEngine(t, kvtest.Memory, opts)

	require.NoError(t, e.Push(ctx, P(1), 0))
	_, err := e.Descendants(ctx, P(1, 2))
	assert.ErrorIs(err, tree.ErrNotFound)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal("Push", spans[0].Name())
	assert.Equal("mptree", spans[0].InstrumentationScope().Name)
	assert.Equal(codes.Unset, spans[0].Status().Code)
	assert.Equal("Descendants", spans[1].Name())
	assert.Equal(codes.Error, spans[1].Status().Code)
}
