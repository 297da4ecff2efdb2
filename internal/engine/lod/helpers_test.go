package lod

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-lod/pkg/math"
)

func newTestEngine(t *testing.T, mutate func(*Options)) *Engine {
	t.Helper()
	opts := DefaultOptions()
	opts.Strategy = Global()
	opts.VertexBudget = 1000
	opts.Logger = zap.NewNop()
	if mutate != nil {
		mutate(&opts)
	}
	e, err := New(opts)
	require.NoError(t, err)
	return e
}

// levels builds a level list with distinct renderables and the given costs.
func levels(costs ...int) []Level {
	out := make([]Level, len(costs))
	for i, c := range costs {
		out[i] = Level{Renderable: RenderableID(i + 1), Vertices: c}
	}
	return out
}

func register(t *testing.T, e *Engine, lv []Level, pos math.Vec3, ro RegisterOptions) *Object {
	t.Helper()
	id, err := e.Register(lv, pos, ro)
	require.NoError(t, err)
	return e.objects[id]
}

func combinerOf(e *Engine, o *Object) *Combiner {
	return e.manager.Combiner(o.combiner)
}

type callLog struct {
	events []string
}

func (l *callLog) callbacks() Callbacks {
	return Callbacks{
		OnAdmitted: func(id ObjectID) { l.events = append(l.events, "admit:"+itoa(id)) },
		OnRemoved:  func(id ObjectID) { l.events = append(l.events, "remove:"+itoa(id)) },
		OnUpdated:  func(id ObjectID) { l.events = append(l.events, "update:"+itoa(id)) },
	}
}

func itoa(id ObjectID) string {
	return strconv.Itoa(int(id))
}

// spyMesh counts calls into the primitive on top of the tally behaviour.
type spyMesh struct {
	MeshCombiner
	calls   int
	adds    int
	removes int
}

type spyFactory struct {
	meshes map[CombinerID]*spyMesh
}

func newSpyFactory() *spyFactory {
	return &spyFactory{meshes: make(map[CombinerID]*spyMesh)}
}

func (f *spyFactory) factory(id CombinerID) MeshCombiner {
	m := &spyMesh{MeshCombiner: newTallyMesh(id)}
	f.meshes[id] = m
	return m
}

func (f *spyFactory) totalCalls() int {
	n := 0
	for _, m := range f.meshes {
		n += m.calls
	}
	return n
}

func (m *spyMesh) AddRemove(adds []Submesh, removes []SubmeshID) map[SubmeshID]int {
	m.calls++
	m.adds += len(adds)
	m.removes += len(removes)
	return m.MeshCombiner.AddRemove(adds, removes)
}

type recordingObserver struct {
	bakes    int
	splits   [][]CombinerID
	merges   [][2]CombinerID
	recycles []CombinerID
}

func (r *recordingObserver) OnBake(CombinerID, BakeReport) { r.bakes++ }
func (r *recordingObserver) OnSplit(_ CombinerID, targets []CombinerID) {
	r.splits = append(r.splits, targets)
}
func (r *recordingObserver) OnMerge(src, dst CombinerID) {
	r.merges = append(r.merges, [2]CombinerID{src, dst})
}
func (r *recordingObserver) OnRecycle(id CombinerID) { r.recycles = append(r.recycles, id) }

type fakeViewer struct {
	pos      math.Vec3
	maxDist  float32
	visCalls int
}

func (v *fakeViewer) IsVisible(b math.AABB) bool {
	v.visCalls++
	if v.maxDist <= 0 {
		return true
	}
	return b.DistanceSquared(v.pos) <= v.maxDist*v.maxDist
}

func (v *fakeViewer) DistanceSquared(p math.Vec3) float32 {
	return v.pos.DistanceSquared(p)
}

// bakedVertices sums the current-level cost of every object baked into c.
func bakedVertices(e *Engine, c *Combiner) int {
	total := 0
	for _, o := range e.objects {
		if o != nil && o.inCombined && o.combiner == c.id {
			total += o.cost(o.current)
		}
	}
	return total
}
