package lod

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Faultbox/midgard-lod/pkg/math"
)

func TestCheckConsistencyReportsViolations(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	e := newTestEngine(t, func(o *Options) { o.Logger = zap.New(core) })
	a := register(t, e, levels(100), math.Vec3{}, RegisterOptions{})
	b := register(t, e, levels(100), math.Vec3{}, RegisterOptions{})
	e.TickFrame()
	require.NoError(t, e.CheckConsistency())
	require.Equal(t, 0, logs.Len())

	c := combinerOf(e, a)
	c.approxQueued += 5
	b.inQueue = true

	err := e.CheckConsistency()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.Equal(t, 1, logs.FilterMessage("queued vertex estimate drifted").Len())
	assert.Equal(t, 1, logs.FilterMessage("object queue flag disagrees with ledgers").Len())

	entry := logs.FilterMessage("queued vertex estimate drifted").All()[0]
	assert.Equal(t, int64(0), entry.ContextMap()["expected"])
	assert.Equal(t, int64(5), entry.ContextMap()["actual"])
}

func TestCheckConsistencyDetectsForeignLedgerEntry(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	e := newTestEngine(t, func(o *Options) { o.Logger = zap.New(core) })
	a := register(t, e, levels(100), math.Vec3{}, RegisterOptions{})
	e.TickFrame()

	stray := e.manager.FreshCombiner(e.manager.Cluster(0))
	stray.ledger[a.id] = Transaction{Action: ActionUpdate, Level: 0}

	assert.ErrorIs(t, e.CheckConsistency(), ErrIntegrity)
	assert.Equal(t, 1, logs.FilterMessage("ledger entry for object assigned elsewhere").Len())
	assert.Equal(t, 1, logs.FilterMessage("object pending state disagrees with ledger").Len())
}

func TestCheckConsistencyDetectsSubmeshBakedElsewhere(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	e := newTestEngine(t, func(o *Options) { o.Logger = zap.New(core) })
	a := register(t, e, levels(100), math.Vec3{}, RegisterOptions{})
	e.TickFrame()
	require.NoError(t, e.CheckConsistency())

	stray := e.manager.FreshCombiner(e.manager.Cluster(0))
	stray.baked = stray.mesh.AddRemove([]Submesh{{ID: a.submesh(a.current), Vertices: 100}}, nil)

	assert.ErrorIs(t, e.CheckConsistency(), ErrIntegrity)
	entries := logs.FilterMessage("combined mesh holds submesh of object not baked there").All()
	require.Len(t, entries, 1)
	assert.Equal(t, uint32(stray.id), entries[0].ContextMap()["combiner"])
}

func TestCheckConsistencyDoesNotCreateCells(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	e := newTestEngine(t, func(o *Options) {
		o.Logger = zap.New(core)
		o.Strategy = Grid(10)
	})
	a := register(t, e, levels(100), math.Vec3{X: 1}, RegisterOptions{})
	e.TickFrame()
	require.NoError(t, e.CheckConsistency())
	clusters := len(e.Clusters())

	a.position = math.Vec3{X: 95}
	assert.ErrorIs(t, e.CheckConsistency(), ErrIntegrity)
	assert.Equal(t, 1, logs.FilterMessage("object cell has no cluster").Len())
	assert.Len(t, e.Clusters(), clusters)
}

func TestConsistencyChecksRunEveryFrame(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	e := newTestEngine(t, func(o *Options) {
		o.Logger = zap.New(core)
		o.ConsistencyChecks = true
	})
	o := register(t, e, levels(100), math.Vec3{}, RegisterOptions{})
	e.TickFrame()
	require.Equal(t, 0, logs.Len())

	o.inCombined = false
	o.current = 0
	combinerOf(e, o).members.Remove(uint32(o.id))
	e.TickFrame()
	assert.Equal(t, 1, logs.FilterMessage("object missing from its combiner's members").Len())
}

// TestRandomOperationsStayConsistent drives the engine with seeded random mutations
// and checks the bookkeeping after every frame, then lets the engine settle and
// checks that every mesh matches the levels its objects believe are baked.
func TestRandomOperationsStayConsistent(t *testing.T) {
	variants := []struct {
		name   string
		mutate func(*Options)
	}{
		{"grid", func(o *Options) { o.Strategy = Grid(10) }},
		{"global", func(o *Options) { o.Strategy = Global() }},
		{"moving", func(o *Options) { o.Strategy = MovingBounds() }},
		{"grid with caps", func(o *Options) {
			o.Strategy = Grid(20)
			o.BucketCaps = []int{2, 4}
			o.Viewer = &fakeViewer{pos: math.Vec3{X: 20, Z: 20}}
		}},
	}

	for _, v := range variants {
		for _, seed := range []int64{1, 7, 42, 1337} {
			t.Run(fmt.Sprintf("%s/seed=%d", v.name, seed), func(t *testing.T) {
				e := newTestEngine(t, func(o *Options) {
					o.VertexBudget = 400
					o.SplitThreshold = 1.5
					o.MergeThreshold = 0.3
					v.mutate(o)
				})
				runRandomOperations(t, e, rand.New(rand.NewSource(seed)), 600)
			})
		}
	}
}

func runRandomOperations(t *testing.T, e *Engine, rng *rand.Rand, steps int) {
	t.Helper()
	var live []ObjectID

	randomPos := func() math.Vec3 {
		return math.Vec3{X: rng.Float32()*60 - 10, Y: rng.Float32() * 5, Z: rng.Float32()*60 - 10}
	}
	randomLevels := func() []Level {
		n := 1 + rng.Intn(3)
		costs := make([]int, n)
		c := 40 + rng.Intn(120)
		for i := range costs {
			costs[i] = c
			c /= 2
		}
		return levels(costs...)
	}
	pick := func() (ObjectID, int) {
		i := rng.Intn(len(live))
		return live[i], i
	}

	for step := 0; step < steps; step++ {
		op := rng.Intn(10)
		if len(live) == 0 && op > 2 && op < 8 {
			op = 0
		}
		switch op {
		case 0, 1:
			lv := randomLevels()
			id, err := e.Register(lv, randomPos(), RegisterOptions{Level: rng.Intn(len(lv) + 1)})
			require.NoError(t, err)
			live = append(live, id)
		case 2:
			if len(live) == 0 {
				continue
			}
			parent, _ := pick()
			lv := randomLevels()
			id, err := e.Register(lv, randomPos(), RegisterOptions{Parent: parent, Level: rng.Intn(len(lv))})
			require.NoError(t, err)
			live = append(live, id)
		case 3, 4:
			id, _ := pick()
			n := len(e.objects[id].levels)
			require.NoError(t, e.SetDesiredLevel(id, rng.Intn(n+1)))
		case 5, 6:
			id, _ := pick()
			require.NoError(t, e.SetPosition(id, randomPos()))
		case 7:
			id, i := pick()
			require.NoError(t, e.Unregister(id))
			live = append(live[:i], live[i+1:]...)
		default:
			e.TickFrame()
			require.NoError(t, e.CheckConsistency(), "step %d", step)
		}
	}

	for i := 0; i < 3; i++ {
		e.TickFrame()
		require.NoError(t, e.CheckConsistency())
	}

	for _, c := range e.Combiners() {
		assert.Equal(t, 0, c.Pending(), "combiner %d", c.id)
		assert.Equal(t, 0, c.ApproxQueuedVertices(), "combiner %d", c.id)
		assert.Equal(t, bakedVertices(e, c), c.VerticesInMesh(), "combiner %d", c.id)
	}
	for _, id := range live {
		o := e.objects[id]
		require.NotNil(t, o)
		assert.Equal(t, NoCluster, o.moveTo, "object %d", id)
		assert.False(t, o.inQueue, "object %d", id)
		assert.Equal(t, o.visible(o.target), o.inCombined, "object %d", id)
		if o.inCombined {
			assert.Equal(t, o.target, o.current, "object %d", id)
		}
	}
	assert.Equal(t, len(live), e.Stats().Objects)
}
