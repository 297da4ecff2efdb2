package lod

import (
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-lod/pkg/math"
)

// ClusterManager maps positions to clusters and owns the combiner arena and its
// recycle pool.
type ClusterManager struct {
	strategy PartitionStrategy
	budget   int
	newMesh  MeshCombinerFactory
	observer Observer
	log      *zap.Logger

	clusters  []*Cluster
	cells     map[cellKey]ClusterID
	combiners []*Combiner
	pool      []CombinerID

	frame    uint64
	recycles uint64
}

func newClusterManager(opts Options, log *zap.Logger) *ClusterManager {
	m := &ClusterManager{
		strategy: opts.Strategy,
		budget:   opts.VertexBudget,
		newMesh:  opts.MeshFactory,
		observer: opts.Observer,
		log:      log,
		cells:    make(map[cellKey]ClusterID),
	}
	if m.newMesh == nil {
		m.newMesh = newTallyMesh
	}
	if m.observer == nil {
		m.observer = NoopObserver{}
	}
	if m.strategy.Kind != PartitionGrid {
		m.newCluster(cellKey{}, math.EmptyAABB(), false)
	}
	return m
}

// Strategy returns the partition strategy the manager was built with.
func (m *ClusterManager) Strategy() PartitionStrategy {
	return m.strategy
}

func (m *ClusterManager) newCluster(key cellKey, bounds math.AABB, fixed bool) *Cluster {
	cl := &Cluster{
		id:      ClusterID(len(m.clusters)),
		cell:    key,
		bounds:  bounds,
		fixed:   fixed,
		visible: true,
	}
	m.clusters = append(m.clusters, cl)
	return cl
}

// ClusterFor returns the cluster responsible for p, creating grid cells lazily.
func (m *ClusterManager) ClusterFor(p math.Vec3) *Cluster {
	if m.strategy.Kind != PartitionGrid {
		return m.clusters[0]
	}
	key := m.cellOf(p)
	if id, ok := m.cells[key]; ok {
		return m.clusters[id]
	}
	size := m.strategy.CellSize
	origin := math.Vec3{X: float32(key.X) * size, Y: float32(key.Y) * size, Z: float32(key.Z) * size}
	bounds := math.AABB{Min: origin, Max: origin.Add(math.Vec3{X: size, Y: size, Z: size})}
	cl := m.newCluster(key, bounds, true)
	m.cells[key] = cl.id
	m.log.Debug("cluster created",
		zap.Uint32("cluster", uint32(cl.id)),
		zap.Int32("x", key.X), zap.Int32("y", key.Y), zap.Int32("z", key.Z))
	return cl
}

// LookupCluster returns the cluster responsible for p without creating grid cells.
// It returns nil when the cell does not exist yet.
func (m *ClusterManager) LookupCluster(p math.Vec3) *Cluster {
	if m.strategy.Kind != PartitionGrid {
		return m.clusters[0]
	}
	if id, ok := m.cells[m.cellOf(p)]; ok {
		return m.clusters[id]
	}
	return nil
}

func (m *ClusterManager) cellOf(p math.Vec3) cellKey {
	f := p.Scale(1 / m.strategy.CellSize).Floor()
	return cellKey{X: int32(f.X), Y: int32(f.Y), Z: int32(f.Z)}
}

// Cluster returns a cluster by id, or nil.
func (m *ClusterManager) Cluster(id ClusterID) *Cluster {
	if int(id) >= len(m.clusters) {
		return nil
	}
	return m.clusters[id]
}

// Combiner returns an active combiner by id, or nil for unknown or pooled ids.
func (m *ClusterManager) Combiner(id CombinerID) *Combiner {
	if int(id) >= len(m.combiners) {
		return nil
	}
	c := m.combiners[id]
	if !c.active {
		return nil
	}
	return c
}

// FreshCombiner returns an empty combiner parented to cl, reusing a pooled one when
// possible. The combiner is evaluated on the following frame even if nothing is
// recorded into it.
func (m *ClusterManager) FreshCombiner(cl *Cluster) *Combiner {
	var c *Combiner
	if n := len(m.pool); n > 0 {
		c = m.combiners[m.pool[n-1]]
		m.pool = m.pool[:n-1]
		c.reset()
	} else {
		id := CombinerID(len(m.combiners))
		c = newCombiner(id, m.budget, m.newMesh(id))
		m.combiners = append(m.combiners, c)
	}
	c.cluster = cl.id
	c.active = true
	c.mesh.SetActive(true)
	c.checkFrame = m.frame + 1
	cl.addCombiner(c.id)
	return c
}

// RecycleCombiner clears c and returns it to the pool. The primitive is kept for reuse.
func (m *ClusterManager) RecycleCombiner(c *Combiner) {
	if !c.active {
		return
	}
	if cl := m.Cluster(c.cluster); cl != nil {
		cl.removeCombiner(c.id)
	}
	c.reset()
	c.mesh.SetActive(false)
	c.active = false
	c.cluster = NoCluster
	m.pool = append(m.pool, c.id)
	m.recycles++
	m.observer.OnRecycle(c.id)
	m.log.Debug("combiner recycled", zap.Uint32("combiner", uint32(c.id)))
}

// bestFit returns the fullest combiner of cl that is still below the split threshold.
func (m *ClusterManager) bestFit(cl *Cluster, splitThreshold float32) *Combiner {
	var best *Combiner
	for _, id := range cl.combiners {
		c := m.combiners[id]
		f := c.Fullness()
		if f >= splitThreshold {
			continue
		}
		if best == nil || f > best.Fullness() {
			best = c
		}
	}
	return best
}

// growBounds extends a non-grid cluster to include p.
func (m *ClusterManager) growBounds(cl *Cluster, p math.Vec3) {
	if cl.fixed {
		return
	}
	cl.bounds = cl.bounds.Extend(p)
}

// RecomputeBounds rebuilds the bounds of every non-grid cluster from the positions
// its members report through positionOf.
func (m *ClusterManager) RecomputeBounds(positionOf func(CombinerID) []math.Vec3) {
	for _, cl := range m.clusters {
		if cl.fixed {
			continue
		}
		b := math.EmptyAABB()
		for _, id := range cl.combiners {
			for _, p := range positionOf(id) {
				b = b.Extend(p)
			}
		}
		cl.bounds = b
	}
}

func (m *ClusterManager) activeCombiners() int {
	return len(m.combiners) - len(m.pool)
}
