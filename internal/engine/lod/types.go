// Package lod combines many level-of-detail objects into a small number of shared,
// vertex-budgeted meshes and rebuilds those meshes incrementally as objects move,
// switch level, appear or disappear.
//
// All state lives in an Engine. Objects, combiners and clusters are addressed by
// arena indices (ObjectID, CombinerID, ClusterID), so the object to combiner and
// combiner to cluster relations are lookups, never ownership edges.
//
// The engine is frame driven and not safe for concurrent use. Object mutations are
// cheap and only touch a per-combiner transaction ledger; rebuilding, splitting,
// merging and bucket capping happen once per frame in TickFrame.
package lod

import (
	"errors"
	"time"
)

var (
	// ErrUnknownObject is returned for ids that were never registered or already released.
	ErrUnknownObject = errors.New("unknown lod object")
	// ErrNoLevels is returned when registering an object without detail levels.
	ErrNoLevels = errors.New("lod object has no levels")
	// ErrInvalidLevel is returned for negative vertex costs or out-of-range level indices.
	ErrInvalidLevel = errors.New("invalid lod level")
	// ErrInvalidOptions is returned by New when the engine options are inconsistent.
	ErrInvalidOptions = errors.New("invalid lod engine options")
	// ErrIntegrity wraps every violation reported by CheckConsistency.
	ErrIntegrity = errors.New("lod integrity violation")
)

// ObjectID indexes the engine's object arena.
type ObjectID uint32

// CombinerID indexes the cluster manager's combiner arena.
type CombinerID uint32

// ClusterID indexes the cluster manager's cluster arena.
type ClusterID uint32

// RenderableID identifies the renderable resource behind one detail level.
type RenderableID uint32

const (
	// NoObject marks an absent parent. Object ids start at 1.
	NoObject = ObjectID(0)
	// NoCombiner marks an object that is not assigned to any combiner.
	NoCombiner = CombinerID(^uint32(0))
	// NoCluster marks an object without a pending relocation.
	NoCluster = ClusterID(^uint32(0))
)

// Level is one detail level of an object, ordered from most to least detailed.
type Level struct {
	Renderable RenderableID
	Vertices   int
	// MaxDistance is the farthest viewer distance at which this level is used when the
	// object selects its level automatically. Zero means unlimited.
	MaxDistance float32
}

// Action is the pending change recorded for an object in a combiner ledger.
type Action uint8

const (
	ActionNone Action = iota
	ActionAdmit
	ActionUpdate
	ActionRemove
)

func (a Action) String() string {
	switch a {
	case ActionAdmit:
		return "admit"
	case ActionUpdate:
		return "update"
	case ActionRemove:
		return "remove"
	default:
		return "none"
	}
}

// SubmeshID identifies one object's renderable inside a combined mesh.
type SubmeshID struct {
	Object     ObjectID
	Renderable RenderableID
}

// Submesh is an add request handed to a MeshCombiner.
type Submesh struct {
	ID       SubmeshID
	Vertices int
}

// MeshCombiner is the geometry-combining primitive owned by exactly one combiner.
// AddRemove applies one batch and returns the vertex count of every submesh left in
// the combined mesh afterwards.
type MeshCombiner interface {
	AddRemove(adds []Submesh, removes []SubmeshID) map[SubmeshID]int
	Contains(id SubmeshID) bool
	Clear()
	SetActive(active bool)
}

// MeshCombinerFactory creates the primitive for a newly constructed combiner.
type MeshCombinerFactory func(id CombinerID) MeshCombiner

// Callbacks are fired from bake in the order removed, admitted, updated.
// Callbacks may mutate the engine; the changes land in the ledgers and are picked up
// later in the same frame or the next one.
type Callbacks struct {
	OnAdmitted func(id ObjectID)
	OnRemoved  func(id ObjectID)
	OnUpdated  func(id ObjectID)
}

// BakeReport describes one completed bake.
type BakeReport struct {
	Admitted int
	Removed  int
	Updated  int
	Vertices int
	Budget   int
	Duration time.Duration
}

// Observer receives structural events. Implement it to export metrics.
type Observer interface {
	OnBake(combiner CombinerID, report BakeReport)
	OnSplit(source CombinerID, targets []CombinerID)
	OnMerge(source, dest CombinerID)
	OnRecycle(combiner CombinerID)
}

// NoopObserver ignores every event.
type NoopObserver struct{}

func (NoopObserver) OnBake(CombinerID, BakeReport)    {}
func (NoopObserver) OnSplit(CombinerID, []CombinerID) {}
func (NoopObserver) OnMerge(CombinerID, CombinerID)   {}
func (NoopObserver) OnRecycle(CombinerID)             {}

// Stats is a point-in-time summary of the engine.
type Stats struct {
	Frame           uint64
	Objects         int
	Clusters        int
	Combiners       int
	PooledCombiners int
	DirtyCombiners  int
	BakedVertices   int
	QueuedVertices  int
	Bakes           uint64
	Splits          uint64
	Merges          uint64
	Recycles        uint64
}
