package lod

import "github.com/Faultbox/midgard-lod/pkg/math"

// Object is one logical entity with an ordered list of detail levels.
//
// A level index equal to len(levels) means hidden: the object contributes nothing
// to any combined mesh.
type Object struct {
	id       ObjectID
	levels   []Level
	position math.Vec3

	parent   ObjectID
	children []ObjectID

	// desired is the natural level chosen by the caller or by distance.
	// target is desired after bucket capping and is what the ledger converges to.
	// current is the level baked into the combiner's mesh while inCombined.
	desired int
	target  int
	current int

	pending    Action
	inQueue    bool
	inCombined bool
	combiner   CombinerID

	// moveTo is the cluster the object's hierarchy is relocating to once its
	// Remove has been baked out of the old combiner.
	moveTo ClusterID

	autoLevel    bool
	revalidate   bool
	unregistered bool
	distanceSq   float32
}

func (o *Object) hiddenLevel() int {
	return len(o.levels)
}

func (o *Object) visible(level int) bool {
	return level >= 0 && level < len(o.levels)
}

// cost returns the vertex cost of a level; hidden levels cost nothing.
func (o *Object) cost(level int) int {
	if !o.visible(level) {
		return 0
	}
	return o.levels[level].Vertices
}

func (o *Object) submesh(level int) SubmeshID {
	return SubmeshID{Object: o.id, Renderable: o.levels[level].Renderable}
}

// clampLevel maps any out-of-range index to hidden.
func (o *Object) clampLevel(level int) int {
	if level < 0 || level > len(o.levels) {
		return len(o.levels)
	}
	return level
}

// levelForDistance returns the first level whose switch distance covers d.
func (o *Object) levelForDistance(d float32) int {
	for i, l := range o.levels {
		if l.MaxDistance <= 0 || d <= l.MaxDistance {
			return i
		}
	}
	return len(o.levels)
}

// settledCost estimates the object's vertex cost once its pending transaction bakes.
func (o *Object) settledCost() int {
	switch o.pending {
	case ActionAdmit, ActionUpdate:
		return o.cost(o.target)
	case ActionRemove:
		return 0
	}
	if o.inCombined {
		return o.cost(o.current)
	}
	return 0
}

// ObjectInfo is a read-only snapshot of an object's state.
type ObjectInfo struct {
	ID           ObjectID
	Parent       ObjectID
	Position     math.Vec3
	Levels       int
	DesiredLevel int
	TargetLevel  int
	CurrentLevel int
	Pending      Action
	InQueue      bool
	InCombined   bool
	Combiner     CombinerID
}

func (o *Object) info() ObjectInfo {
	return ObjectInfo{
		ID:           o.id,
		Parent:       o.parent,
		Position:     o.position,
		Levels:       len(o.levels),
		DesiredLevel: o.desired,
		TargetLevel:  o.target,
		CurrentLevel: o.current,
		Pending:      o.pending,
		InQueue:      o.inQueue,
		InCombined:   o.inCombined,
		Combiner:     o.combiner,
	}
}
