package lod

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/midgard-lod/pkg/math"
)

func TestSplitOverfullCombiner(t *testing.T) {
	var log callLog
	obs := &recordingObserver{}
	e := newTestEngine(t, func(o *Options) {
		o.VertexBudget = 300
		o.SplitThreshold = 1.5
		o.Callbacks = log.callbacks()
		o.Observer = obs
	})

	var objs []*Object
	for i := 0; i < 5; i++ {
		objs = append(objs, register(t, e, levels(100), math.Vec3{X: float32(i)}, RegisterOptions{}))
	}
	first := combinerOf(e, objs[0])
	for _, o := range objs {
		require.Equal(t, first.id, o.combiner, "admission fills the first combiner below the split threshold")
	}
	require.InDelta(t, 1.67, first.Fullness(), 0.01)

	e.TickFrame()

	combiners := e.Combiners()
	require.Len(t, combiners, 2)
	assert.Equal(t, 300, combiners[0].VerticesInMesh())
	assert.Equal(t, 200, combiners[1].VerticesInMesh())
	for _, c := range combiners {
		assert.LessOrEqual(t, c.VerticesInMesh(), c.Budget())
		assert.Equal(t, 0, c.Pending())
	}
	assert.Equal(t, uint64(1), e.Stats().Splits)
	require.Len(t, obs.splits, 1)
	assert.Equal(t, []CombinerID{first.id, combiners[1].id}, obs.splits[0])

	// Every object is admitted once, straight into its final combiner.
	assert.Len(t, log.events, 5)
	for _, ev := range log.events {
		assert.Contains(t, ev, "admit:")
	}
	assert.NoError(t, e.CheckConsistency())

	// The fresh combiner gets its scheduled check next frame and stays as is.
	e.TickFrame()
	assert.Len(t, e.Combiners(), 2)
	assert.Len(t, log.events, 5)
}

func TestSplitKeepsHierarchiesTogether(t *testing.T) {
	e := newTestEngine(t, func(o *Options) {
		o.VertexBudget = 300
		o.SplitThreshold = 1.5
	})

	a := register(t, e, levels(100), math.Vec3{}, RegisterOptions{})
	a1 := register(t, e, levels(100), math.Vec3{X: 1}, RegisterOptions{Parent: a.id})
	b := register(t, e, levels(100), math.Vec3{X: 2}, RegisterOptions{})
	b1 := register(t, e, levels(100), math.Vec3{X: 3}, RegisterOptions{Parent: b.id})
	c := register(t, e, levels(100), math.Vec3{X: 4}, RegisterOptions{})
	require.Equal(t, 1, len(e.Combiners()))

	e.TickFrame()

	require.Len(t, e.Combiners(), 2)
	assert.Equal(t, a.combiner, a1.combiner)
	assert.Equal(t, b.combiner, b1.combiner)
	assert.NotEqual(t, a.combiner, b.combiner)
	// Largest hierarchies are placed first; the single object fills the lighter target.
	assert.Equal(t, a.combiner, c.combiner)
	assert.Equal(t, 300, combinerOf(e, a).VerticesInMesh())
	assert.Equal(t, 200, combinerOf(e, b).VerticesInMesh())
	assert.NoError(t, e.CheckConsistency())
}

func TestSplitSingleHierarchyBakesInPlace(t *testing.T) {
	obs := &recordingObserver{}
	e := newTestEngine(t, func(o *Options) {
		o.VertexBudget = 100
		o.SplitThreshold = 1.5
		o.Observer = obs
	})
	root := register(t, e, levels(100), math.Vec3{}, RegisterOptions{})
	register(t, e, levels(100), math.Vec3{}, RegisterOptions{Parent: root.id})

	e.TickFrame()

	require.Len(t, e.Combiners(), 1)
	assert.Empty(t, obs.splits)
	assert.Equal(t, 200, combinerOf(e, root).VerticesInMesh(), "an indivisible hierarchy may exceed the budget")
}

func TestSplitReusesUnderfullSibling(t *testing.T) {
	e := newTestEngine(t, func(o *Options) {
		o.VertexBudget = 300
		o.SplitThreshold = 1.5
	})
	small := register(t, e, levels(30), math.Vec3{}, RegisterOptions{})
	c0 := combinerOf(e, small)
	e.TickFrame()

	// Force a second combiner and overfill it.
	cl := e.manager.Cluster(c0.cluster)
	c1 := e.manager.FreshCombiner(cl)
	var moved []*Object
	for i := 0; i < 5; i++ {
		o := register(t, e, levels(100), math.Vec3{}, RegisterOptions{})
		e.cancel(combinerOf(e, o), o)
		e.moveObject(o, c1)
		moved = append(moved, o)
	}
	require.Equal(t, 500, c1.Load())

	e.TickFrame()

	assert.Len(t, e.Combiners(), 2, "the under-full sibling takes the overflow instead of a fresh combiner")
	assert.LessOrEqual(t, c0.VerticesInMesh(), 300)
	assert.LessOrEqual(t, c1.VerticesInMesh(), 300)
	assert.Equal(t, 530, c0.VerticesInMesh()+c1.VerticesInMesh())
	for _, o := range moved {
		assert.True(t, o.inCombined)
	}
	assert.NoError(t, e.CheckConsistency())
}

// meshCopies counts how many active combined meshes hold a renderable of o.
func meshCopies(e *Engine, o *Object) int {
	n := 0
	for _, c := range e.Combiners() {
		for sub := range c.baked {
			if sub.Object == o.id {
				n++
			}
		}
	}
	return n
}

func TestSplitWithCallbackChangingDrainedObject(t *testing.T) {
	var onRemoved func(ObjectID)
	e := newTestEngine(t, func(o *Options) {
		o.VertexBudget = 300
		o.SplitThreshold = 1.5
		o.Callbacks = Callbacks{OnRemoved: func(id ObjectID) {
			if onRemoved != nil {
				onRemoved(id)
			}
		}}
	})

	var objs []*Object
	for i := 0; i < 3; i++ {
		objs = append(objs, register(t, e, levels(100), math.Vec3{X: float32(i)}, RegisterOptions{}))
	}
	e.TickFrame()
	require.Len(t, e.Combiners(), 1)
	for i := 3; i < 5; i++ {
		objs = append(objs, register(t, e, levels(100), math.Vec3{X: float32(i)}, RegisterOptions{}))
	}
	require.InDelta(t, 1.67, combinerOf(e, objs[0]).Fullness(), 0.01)

	// Removals fired while the split drains re-queue a member that has not moved yet.
	last := objs[len(objs)-1]
	onRemoved = func(ObjectID) {
		require.NoError(t, e.SetDesiredLevel(last.id, 0))
	}
	e.TickFrame()
	onRemoved = nil

	require.Len(t, e.Combiners(), 2)
	total := 0
	for _, c := range e.Combiners() {
		total += c.VerticesInMesh()
		assert.Equal(t, 0, c.Pending())
		assert.LessOrEqual(t, c.VerticesInMesh(), c.Budget())
	}
	assert.Equal(t, 500, total)
	assert.Equal(t, 300, combinerOf(e, objs[0]).VerticesInMesh())
	assert.Equal(t, 200, combinerOf(e, objs[1]).VerticesInMesh())
	for _, o := range objs {
		assert.Equal(t, 1, meshCopies(e, o), "object %d", o.id)
		assert.True(t, o.inCombined)
	}
	assert.NoError(t, e.CheckConsistency())

	e.TickFrame()
	assert.NoError(t, e.CheckConsistency())
}

func TestMergeWithCallbackChangingDrainedObject(t *testing.T) {
	var onRemoved func(ObjectID)
	e := newTestEngine(t, func(o *Options) {
		o.Callbacks = Callbacks{OnRemoved: func(id ObjectID) {
			if onRemoved != nil {
				onRemoved(id)
			}
		}}
	})
	o1, o2, c0, c1 := twoCombiners(t, e, 100, 150)

	onRemoved = func(id ObjectID) {
		require.NoError(t, e.SetDesiredLevel(id, 0))
	}
	e.markDirty(c0)
	e.TickFrame()
	onRemoved = nil

	require.Len(t, e.Combiners(), 1)
	assert.False(t, c0.active)
	assert.Equal(t, 250, c1.VerticesInMesh())
	assert.Equal(t, 1, meshCopies(e, o1))
	assert.Equal(t, 1, meshCopies(e, o2))
	assert.NoError(t, e.CheckConsistency())
}

// twoCombiners sets up one object per combiner in the global cluster and bakes them
// without letting the merge pass run.
func twoCombiners(t *testing.T, e *Engine, first, second int) (*Object, *Object, *Combiner, *Combiner) {
	t.Helper()
	merge := e.opts.MergeThreshold
	e.opts.MergeThreshold = 0.01

	o1 := register(t, e, levels(first), math.Vec3{}, RegisterOptions{})
	o2 := register(t, e, levels(second), math.Vec3{X: 1}, RegisterOptions{})
	c0 := combinerOf(e, o1)
	e.cancel(c0, o2)
	c1 := e.manager.FreshCombiner(e.manager.Cluster(c0.cluster))
	e.moveObject(o2, c1)

	e.TickFrame()
	require.Len(t, e.Combiners(), 2)
	require.Equal(t, first, c0.VerticesInMesh())
	require.Equal(t, second, c1.VerticesInMesh())

	e.opts.MergeThreshold = merge
	return o1, o2, c0, c1
}

func TestMergeUnderfullCombiners(t *testing.T) {
	obs := &recordingObserver{}
	var log callLog
	e := newTestEngine(t, func(o *Options) {
		o.Observer = obs
		o.Callbacks = log.callbacks()
	})
	o1, o2, c0, c1 := twoCombiners(t, e, 100, 150)
	log.events = nil

	e.markDirty(c0)
	e.TickFrame()

	require.Len(t, e.Combiners(), 1)
	assert.Equal(t, 1, e.Stats().PooledCombiners)
	assert.Equal(t, 250, c1.VerticesInMesh())
	assert.False(t, c0.active)
	assert.Equal(t, c1.id, o1.combiner)
	assert.Equal(t, c1.id, o2.combiner)
	assert.Equal(t, [][2]CombinerID{{c0.id, c1.id}}, obs.merges)
	assert.Equal(t, []CombinerID{c0.id}, obs.recycles)
	assert.Equal(t, uint64(1), e.Stats().Merges)
	assert.Equal(t, []string{"remove:1", "admit:1"}, log.events)
	assert.NoError(t, e.CheckConsistency())
}

func TestMergeEqualLoadMovesHigherID(t *testing.T) {
	e := newTestEngine(t, nil)
	o1, o2, c0, c1 := twoCombiners(t, e, 100, 100)

	e.markDirty(c0)
	e.TickFrame()

	require.Len(t, e.Combiners(), 1)
	assert.True(t, c0.active)
	assert.False(t, c1.active)
	assert.Equal(t, c0.id, o1.combiner)
	assert.Equal(t, c0.id, o2.combiner)
	assert.Equal(t, 200, c0.VerticesInMesh())
}

func TestMergeSkipsPartnerThatDoesNotFit(t *testing.T) {
	e := newTestEngine(t, func(o *Options) { o.MergeThreshold = 0.6 })
	_, _, c0, c1 := twoCombiners(t, e, 550, 550)

	e.markDirty(c0)
	e.markDirty(c1)
	e.TickFrame()

	assert.Len(t, e.Combiners(), 2)
	assert.Equal(t, uint64(0), e.Stats().Merges)
}

func TestRecycledCombinerIsReused(t *testing.T) {
	e := newTestEngine(t, nil)
	_, _, c0, _ := twoCombiners(t, e, 100, 150)
	e.markDirty(c0)
	e.TickFrame()
	require.False(t, c0.active)

	cl := e.manager.Cluster(0)
	reused := e.manager.FreshCombiner(cl)
	assert.Same(t, c0, reused)
	assert.True(t, reused.active)
	assert.Equal(t, 0, reused.VerticesInMesh())
	assert.Equal(t, 0, reused.Pending())
	assert.Equal(t, 0, reused.MemberCount())
	assert.Equal(t, 0, e.Stats().PooledCombiners)
	assert.Contains(t, cl.Combiners(), reused.id)
}
