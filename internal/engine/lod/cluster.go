package lod

import "github.com/Faultbox/midgard-lod/pkg/math"

type cellKey struct {
	X, Y, Z int32
}

// Cluster is a spatial group of combiners sharing one partition key.
type Cluster struct {
	id     ClusterID
	cell   cellKey
	bounds math.AABB
	// fixed is true for grid cells, whose bounds never change.
	fixed bool

	combiners []CombinerID

	visible    bool
	distanceSq float32
}

// ID returns the cluster's arena index.
func (cl *Cluster) ID() ClusterID { return cl.id }

// Bounds returns the cluster bounds. Empty for a global or moving cluster with no members.
func (cl *Cluster) Bounds() math.AABB { return cl.bounds }

// Combiners returns the ids of the cluster's active combiners.
func (cl *Cluster) Combiners() []CombinerID {
	return append([]CombinerID(nil), cl.combiners...)
}

// Contains reports whether p falls inside the cluster bounds.
func (cl *Cluster) Contains(p math.Vec3) bool {
	return cl.bounds.Contains(p)
}

// Intersects reports whether the cluster bounds overlap b.
func (cl *Cluster) Intersects(b math.AABB) bool {
	return cl.bounds.Intersects(b)
}

// Visible returns the visibility cached by the last frame pre-pass.
func (cl *Cluster) Visible() bool { return cl.visible }

// DistanceSquared returns the viewer distance cached by the last frame pre-pass.
func (cl *Cluster) DistanceSquared() float32 { return cl.distanceSq }

func (cl *Cluster) addCombiner(id CombinerID) {
	cl.combiners = append(cl.combiners, id)
}

func (cl *Cluster) removeCombiner(id CombinerID) {
	for i, c := range cl.combiners {
		if c == id {
			cl.combiners = append(cl.combiners[:i], cl.combiners[i+1:]...)
			return
		}
	}
}

// refreshView caches visibility and distance for the frame. Without a viewer every
// cluster is visible at distance zero.
func (cl *Cluster) refreshView(v Viewer) {
	if v == nil {
		cl.visible = true
		cl.distanceSq = 0
		return
	}
	if cl.bounds.IsEmpty() {
		cl.visible = false
		cl.distanceSq = 0
		return
	}
	cl.visible = v.IsVisible(cl.bounds)
	cl.distanceSq = v.DistanceSquared(cl.bounds.Center())
}
