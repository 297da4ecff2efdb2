package lod

import (
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"go.uber.org/zap"
)

// Transaction is the single pending change recorded for one object in one combiner.
type Transaction struct {
	Action Action
	Level  int

	// Baked and BakedVertices snapshot the in-mesh renderable for removals, since
	// the object can no longer describe it once it leaves the mesh.
	Baked         SubmeshID
	BakedVertices int

	// delta is this entry's contribution to approxQueued, kept so it can be undone exactly.
	delta int
}

// Combiner owns one shared mesh, its vertex budget and its transaction ledger.
type Combiner struct {
	id      CombinerID
	cluster ClusterID
	budget  int
	mesh    MeshCombiner
	active  bool

	verticesInMesh int
	approxQueued   int
	ledger         map[ObjectID]Transaction
	members        *roaring.Bitmap

	// baked holds the per-submesh vertex counts the primitive reported on the last bake.
	baked map[SubmeshID]int

	// checkFrame is the frame at which a fresh combiner gets its first evaluation.
	checkFrame uint64
}

func newCombiner(id CombinerID, budget int, mesh MeshCombiner) *Combiner {
	return &Combiner{
		id:      id,
		cluster: NoCluster,
		budget:  budget,
		mesh:    mesh,
		ledger:  make(map[ObjectID]Transaction),
		members: roaring.New(),
	}
}

// ID returns the combiner's arena index.
func (c *Combiner) ID() CombinerID { return c.id }

// Cluster returns the owning cluster.
func (c *Combiner) Cluster() ClusterID { return c.cluster }

// Budget returns the vertex budget.
func (c *Combiner) Budget() int { return c.budget }

// VerticesInMesh returns the exact vertex count of the last bake.
func (c *Combiner) VerticesInMesh() int { return c.verticesInMesh }

// ApproxQueuedVertices returns the estimated net vertex change of pending transactions.
func (c *Combiner) ApproxQueuedVertices() int { return c.approxQueued }

// Pending returns the number of ledger entries.
func (c *Combiner) Pending() int { return len(c.ledger) }

// MemberCount returns the number of objects assigned to the combiner.
func (c *Combiner) MemberCount() int { return int(c.members.GetCardinality()) }

// Members returns the assigned object ids in ascending order.
func (c *Combiner) Members() []ObjectID {
	out := make([]ObjectID, 0, c.members.GetCardinality())
	it := c.members.Iterator()
	for it.HasNext() {
		out = append(out, ObjectID(it.Next()))
	}
	return out
}

// Load returns baked plus estimated queued vertices.
func (c *Combiner) Load() int {
	return c.verticesInMesh + c.approxQueued
}

// Fullness returns the load relative to the vertex budget.
func (c *Combiner) Fullness() float32 {
	return float32(c.Load()) / float32(c.budget)
}

// Transaction returns the pending transaction for an object, if any.
func (c *Combiner) Transaction(id ObjectID) (Transaction, bool) {
	tx, ok := c.ledger[id]
	return tx, ok
}

func (c *Combiner) reset() {
	c.verticesInMesh = 0
	c.approxQueued = 0
	c.baked = nil
	clear(c.ledger)
	c.members.Clear()
	c.mesh.Clear()
}

// record stores the change for o, replacing and undoing any previous entry first.
func (e *Engine) record(c *Combiner, o *Object, action Action, level int) {
	if prev, ok := c.ledger[o.id]; ok {
		c.approxQueued -= prev.delta
		delete(c.ledger, o.id)
	}
	if action == ActionAdmit && o.inCombined {
		action = ActionUpdate
	}

	tx := Transaction{Action: action, Level: level}
	switch action {
	case ActionAdmit:
		tx.delta = o.cost(level)
	case ActionUpdate:
		tx.delta = o.cost(level) - o.cost(o.current)
	case ActionRemove:
		if !o.inCombined {
			// Never baked: nothing to take out of the mesh.
			o.pending = ActionNone
			o.inQueue = false
			return
		}
		tx.Baked = o.submesh(o.current)
		tx.BakedVertices = o.cost(o.current)
		tx.delta = -tx.BakedVertices
	default:
		o.pending = ActionNone
		o.inQueue = false
		return
	}

	c.ledger[o.id] = tx
	c.approxQueued += tx.delta
	o.pending = action
	o.inQueue = true
	e.markDirty(c)
}

// cancel drops o's pending transaction as if it had never been recorded.
func (e *Engine) cancel(c *Combiner, o *Object) {
	if tx, ok := c.ledger[o.id]; ok {
		c.approxQueued -= tx.delta
		delete(c.ledger, o.id)
	}
	o.pending = ActionNone
	o.inQueue = false
}

// bake applies every pending transaction of c to its mesh in one batch.
func (e *Engine) bake(c *Combiner) {
	e.clearDirty(c)
	if len(c.ledger) == 0 {
		return
	}
	start := time.Now()

	ids := make([]ObjectID, 0, len(c.ledger))
	for id := range c.ledger {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var (
		adds                       []Submesh
		removes                    []SubmeshID
		admitted, removed, updated []*Object
	)
	levels := make(map[ObjectID]int, len(ids))
	for _, id := range ids {
		tx := c.ledger[id]
		o := e.objects[id]
		levels[id] = tx.Level
		switch tx.Action {
		case ActionAdmit:
			adds = append(adds, Submesh{ID: o.submesh(tx.Level), Vertices: o.cost(tx.Level)})
			admitted = append(admitted, o)
		case ActionRemove:
			removes = append(removes, tx.Baked)
			removed = append(removed, o)
		case ActionUpdate:
			removes = append(removes, o.submesh(o.current))
			adds = append(adds, Submesh{ID: o.submesh(tx.Level), Vertices: o.cost(tx.Level)})
			updated = append(updated, o)
		}
	}

	counts := c.mesh.AddRemove(adds, removes)
	c.baked = counts
	c.verticesInMesh = 0
	for _, n := range counts {
		c.verticesInMesh += n
	}
	c.approxQueued = 0
	clear(c.ledger)

	for _, o := range removed {
		o.inCombined = false
		o.current = o.hiddenLevel()
		o.pending = ActionNone
		o.inQueue = false
	}
	for _, o := range admitted {
		o.inCombined = true
		o.current = levels[o.id]
		o.pending = ActionNone
		o.inQueue = false
	}
	for _, o := range updated {
		o.current = levels[o.id]
		o.pending = ActionNone
		o.inQueue = false
	}

	e.stats.bakes++
	report := BakeReport{
		Admitted: len(admitted),
		Removed:  len(removed),
		Updated:  len(updated),
		Vertices: c.verticesInMesh,
		Budget:   c.budget,
		Duration: time.Since(start),
	}
	e.observer.OnBake(c.id, report)
	e.log.Debug("combiner baked",
		zap.Uint32("combiner", uint32(c.id)),
		zap.Int("admitted", report.Admitted),
		zap.Int("removed", report.Removed),
		zap.Int("updated", report.Updated),
		zap.Int("vertices", report.Vertices))

	e.fireCallbacks(removed, admitted, updated)

	// Removed objects either leave the engine or land in their new cluster.
	for _, o := range removed {
		switch {
		case o.unregistered:
			e.release(o)
		case o.moveTo != NoCluster:
			e.land(o)
		}
	}
}

func (e *Engine) fireCallbacks(removed, admitted, updated []*Object) {
	cb := e.callbacks
	if cb.OnRemoved != nil {
		for _, o := range removed {
			cb.OnRemoved(o.id)
		}
	}
	if cb.OnAdmitted != nil {
		for _, o := range admitted {
			cb.OnAdmitted(o.id)
		}
	}
	if cb.OnUpdated != nil {
		for _, o := range updated {
			cb.OnUpdated(o.id)
		}
	}
}

// tallyMesh is the default primitive when no geometry is attached: it only keeps
// the vertex count of every submesh.
type tallyMesh struct {
	counts map[SubmeshID]int
	active bool
}

func newTallyMesh(CombinerID) MeshCombiner {
	return &tallyMesh{counts: make(map[SubmeshID]int), active: true}
}

func (m *tallyMesh) AddRemove(adds []Submesh, removes []SubmeshID) map[SubmeshID]int {
	for _, id := range removes {
		delete(m.counts, id)
	}
	for _, s := range adds {
		m.counts[s.ID] = s.Vertices
	}
	out := make(map[SubmeshID]int, len(m.counts))
	for id, n := range m.counts {
		out[id] = n
	}
	return out
}

func (m *tallyMesh) Contains(id SubmeshID) bool {
	_, ok := m.counts[id]
	return ok
}

func (m *tallyMesh) Clear() {
	clear(m.counts)
}

func (m *tallyMesh) SetActive(active bool) {
	m.active = active
}
