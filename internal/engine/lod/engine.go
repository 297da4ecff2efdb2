package lod

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/chewxy/math32"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-lod/internal/logger"
	"github.com/Faultbox/midgard-lod/pkg/math"
)

// RegisterOptions configures a newly registered object.
type RegisterOptions struct {
	// Level is the initial desired level. len(levels) registers the object hidden.
	Level int
	// AutoLevel selects the level from the viewer distance every frame, using each
	// level's MaxDistance. SetDesiredLevel turns it off.
	AutoLevel bool
	// Parent nests the object under another one. Nested objects always share their
	// root's combiner.
	Parent ObjectID
}

type counters struct {
	bakes  uint64
	splits uint64
	merges uint64
}

// Engine owns every cluster, combiner and object of one LOD combining context.
type Engine struct {
	id        string
	opts      Options
	log       *zap.Logger
	manager   *ClusterManager
	viewer    Viewer
	callbacks Callbacks
	observer  Observer

	objects []*Object
	live    int
	moved   []ObjectID
	dirty   *roaring.Bitmap

	frame uint64
	stats counters
}

// New creates an engine. Zero-valued thresholds and budget are filled from DefaultOptions.
func New(opts Options) (*Engine, error) {
	def := DefaultOptions()
	if opts.VertexBudget == 0 {
		opts.VertexBudget = def.VertexBudget
	}
	if opts.SplitThreshold == 0 {
		opts.SplitThreshold = def.SplitThreshold
	}
	if opts.MergeThreshold == 0 {
		opts.MergeThreshold = def.MergeThreshold
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Observer == nil {
		opts.Observer = NoopObserver{}
	}

	id := uuid.NewString()
	log := opts.Logger
	if log == nil {
		log = logger.Named("lod")
	}
	log = log.With(zap.String("engine", id))

	e := &Engine{
		id:        id,
		opts:      opts,
		log:       log,
		manager:   newClusterManager(opts, log),
		viewer:    opts.Viewer,
		callbacks: opts.Callbacks,
		observer:  opts.Observer,
		objects:   []*Object{nil},
		dirty:     roaring.New(),
	}
	log.Info("lod engine created",
		zap.Stringer("strategy", opts.Strategy.Kind),
		zap.Int("vertex_budget", opts.VertexBudget),
		zap.Float32("split_threshold", opts.SplitThreshold),
		zap.Float32("merge_threshold", opts.MergeThreshold),
		zap.Ints("bucket_caps", opts.BucketCaps))
	return e, nil
}

// ID returns the engine's unique instance id, attached to every log line.
func (e *Engine) ID() string { return e.id }

// Frame returns the number of completed TickFrame calls.
func (e *Engine) Frame() uint64 { return e.frame }

// Manager returns the cluster manager.
func (e *Engine) Manager() *ClusterManager { return e.manager }

// SetViewer replaces the visibility and distance collaborator. Nil makes every
// cluster visible.
func (e *Engine) SetViewer(v Viewer) { e.viewer = v }

// Register adds an object and assigns it to a combiner.
func (e *Engine) Register(levels []Level, position math.Vec3, ro RegisterOptions) (ObjectID, error) {
	if len(levels) == 0 {
		return NoObject, ErrNoLevels
	}
	for i, l := range levels {
		if l.Vertices < 0 {
			return NoObject, fmt.Errorf("%w: level %d has %d vertices", ErrInvalidLevel, i, l.Vertices)
		}
	}
	if ro.Level < 0 || ro.Level > len(levels) {
		return NoObject, fmt.Errorf("%w: initial level %d of %d", ErrInvalidLevel, ro.Level, len(levels))
	}
	var parent *Object
	if ro.Parent != NoObject {
		p, err := e.lookup(ro.Parent)
		if err != nil {
			return NoObject, fmt.Errorf("registering under parent %d: %w", ro.Parent, err)
		}
		parent = p
	}

	o := &Object{
		id:        ObjectID(len(e.objects)),
		levels:    append([]Level(nil), levels...),
		position:  position,
		parent:    ro.Parent,
		combiner:  NoCombiner,
		moveTo:    NoCluster,
		autoLevel: ro.AutoLevel,
	}
	o.current = o.hiddenLevel()
	o.desired = ro.Level
	if o.autoLevel && e.viewer != nil {
		o.distanceSq = e.viewer.DistanceSquared(position)
		o.desired = o.levelForDistance(math32.Sqrt(o.distanceSq))
	}
	o.target = o.desired
	e.objects = append(e.objects, o)
	e.live++

	var c *Combiner
	if parent != nil {
		parent.children = append(parent.children, o.id)
		// A relocating parent takes the new object along when it lands.
		o.moveTo = parent.moveTo
		c = e.manager.Combiner(parent.combiner)
		if cl := e.manager.Cluster(c.cluster); cl != nil {
			e.manager.growBounds(cl, position)
		}
	} else {
		cl := e.manager.ClusterFor(position)
		e.manager.growBounds(cl, position)
		c = e.admission(cl)
	}
	e.assign(o, c)
	e.reconcile(o)
	return o.id, nil
}

// SetDesiredLevel sets the natural level of an object and disables auto leveling.
// len(levels) hides the object.
func (e *Engine) SetDesiredLevel(id ObjectID, level int) error {
	o, err := e.lookup(id)
	if err != nil {
		return err
	}
	if level < 0 || level > len(o.levels) {
		return fmt.Errorf("%w: level %d of %d for object %d", ErrInvalidLevel, level, len(o.levels), id)
	}
	o.autoLevel = false
	e.setDesired(o, level)
	return nil
}

// SetPosition moves an object. Crossing a grid cell boundary relocates its whole
// hierarchy on the next frame.
func (e *Engine) SetPosition(id ObjectID, p math.Vec3) error {
	o, err := e.lookup(id)
	if err != nil {
		return err
	}
	o.position = p
	if c := e.manager.Combiner(o.combiner); c != nil {
		if cl := e.manager.Cluster(c.cluster); cl != nil {
			e.manager.growBounds(cl, p)
		}
	}
	if e.manager.strategy.Kind == PartitionGrid && o.parent == NoObject && !o.revalidate {
		o.revalidate = true
		e.moved = append(e.moved, o.id)
	}
	return nil
}

// Unregister removes an object. If it is baked, its removal happens at the next bake
// of its combiner and OnRemoved fires then. Nested objects become roots.
func (e *Engine) Unregister(id ObjectID) error {
	o, err := e.lookup(id)
	if err != nil {
		return err
	}
	o.unregistered = true
	e.live--
	root := e.root(o)

	for _, cid := range o.children {
		if child := e.objects[cid]; child != nil {
			child.parent = NoObject
			if e.manager.strategy.Kind == PartitionGrid && !child.revalidate {
				child.revalidate = true
				e.moved = append(e.moved, child.id)
			}
		}
	}
	o.children = nil
	if p := e.objects[o.parent]; p != nil {
		for i, cid := range p.children {
			if cid == o.id {
				p.children = append(p.children[:i], p.children[i+1:]...)
				break
			}
		}
	}
	o.parent = NoObject

	o.desired = o.hiddenLevel()
	o.target = o.hiddenLevel()
	if o.moveTo == NoCluster {
		e.reconcile(o)
	}
	if c := e.manager.Combiner(o.combiner); c != nil {
		c.members.Remove(uint32(o.id))
	}
	if !o.inQueue {
		e.release(o)
	}
	if o.moveTo != NoCluster && root != o {
		e.finishRelocation(root)
	}
	return nil
}

// Object returns a snapshot of a registered object.
func (e *Engine) Object(id ObjectID) (ObjectInfo, error) {
	o, err := e.lookup(id)
	if err != nil {
		return ObjectInfo{}, err
	}
	return o.info(), nil
}

// Combiner returns an active combiner by id, or nil.
func (e *Engine) Combiner(id CombinerID) *Combiner {
	return e.manager.Combiner(id)
}

// Combiners returns every active combiner in id order.
func (e *Engine) Combiners() []*Combiner {
	var out []*Combiner
	for _, c := range e.manager.combiners {
		if c.active {
			out = append(out, c)
		}
	}
	return out
}

// Clusters returns every cluster in id order.
func (e *Engine) Clusters() []*Cluster {
	return append([]*Cluster(nil), e.manager.clusters...)
}

// RecomputeBounds refits global and moving clusters to their members' positions.
func (e *Engine) RecomputeBounds() {
	e.manager.RecomputeBounds(func(id CombinerID) []math.Vec3 {
		c := e.manager.Combiner(id)
		if c == nil {
			return nil
		}
		var out []math.Vec3
		for _, oid := range c.Members() {
			out = append(out, e.objects[oid].position)
		}
		return out
	})
}

// Stats returns a summary of the engine state.
func (e *Engine) Stats() Stats {
	s := Stats{
		Frame:           e.frame,
		Objects:         e.live,
		Clusters:        len(e.manager.clusters),
		Combiners:       e.manager.activeCombiners(),
		PooledCombiners: len(e.manager.pool),
		DirtyCombiners:  int(e.dirty.GetCardinality()),
		Bakes:           e.stats.bakes,
		Splits:          e.stats.splits,
		Merges:          e.stats.merges,
		Recycles:        e.manager.recycles,
	}
	for _, c := range e.Combiners() {
		s.BakedVertices += c.verticesInMesh
		s.QueuedVertices += c.approxQueued
	}
	return s
}

// TickFrame runs the per-frame pass: viewer pre-pass, relocation of moved objects,
// bucket capping, then split/merge checks and bakes of dirty combiners.
func (e *Engine) TickFrame() {
	e.frame++
	e.manager.frame = e.frame

	e.prepass()
	e.processMoves()
	e.applyBucketCaps()
	e.processDirty()
	e.recycleEmpty()

	if e.opts.ConsistencyChecks {
		_ = e.CheckConsistency()
	}
}

func (e *Engine) lookup(id ObjectID) (*Object, error) {
	if id == NoObject || int(id) >= len(e.objects) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownObject, id)
	}
	o := e.objects[id]
	if o == nil || o.unregistered {
		return nil, fmt.Errorf("%w: %d", ErrUnknownObject, id)
	}
	return o, nil
}

func (e *Engine) markDirty(c *Combiner) {
	e.dirty.Add(uint32(c.id))
}

func (e *Engine) clearDirty(c *Combiner) {
	e.dirty.Remove(uint32(c.id))
}

// admission picks the combiner a new root object joins in cl.
func (e *Engine) admission(cl *Cluster) *Combiner {
	if c := e.manager.bestFit(cl, e.opts.SplitThreshold); c != nil {
		return c
	}
	return e.manager.FreshCombiner(cl)
}

func (e *Engine) assign(o *Object, c *Combiner) {
	o.combiner = c.id
	c.members.Add(uint32(o.id))
}

func (e *Engine) detach(o *Object) {
	if c := e.manager.Combiner(o.combiner); c != nil {
		c.members.Remove(uint32(o.id))
	}
	o.combiner = NoCombiner
}

// reassign moves an object that is not in any combined mesh to dest, dropping its
// pending entry in the old combiner.
func (e *Engine) reassign(o *Object, dest *Combiner) {
	if old := e.manager.Combiner(o.combiner); old != nil {
		e.cancel(old, o)
	}
	e.detach(o)
	e.assign(o, dest)
}

// release drops an unregistered object from the arena once nothing references it.
func (e *Engine) release(o *Object) {
	e.detach(o)
	e.objects[o.id] = nil
}

func (e *Engine) setDesired(o *Object, level int) {
	o.desired = level
	o.target = level
	e.reconcile(o)
}

// reconcile records whatever transaction brings the object's mesh state to its target.
func (e *Engine) reconcile(o *Object) {
	if o.moveTo != NoCluster {
		return
	}
	c := e.manager.Combiner(o.combiner)
	if c == nil {
		return
	}
	visible := o.visible(o.target)
	switch {
	case !o.inCombined && visible:
		e.record(c, o, ActionAdmit, o.target)
	case !o.inCombined:
		if o.inQueue {
			e.record(c, o, ActionRemove, o.target)
		}
	case !visible:
		e.record(c, o, ActionRemove, o.target)
	case o.target != o.current:
		e.record(c, o, ActionUpdate, o.target)
	case o.inQueue:
		e.cancel(c, o)
	}
}

func (e *Engine) root(o *Object) *Object {
	for o.parent != NoObject {
		p := e.objects[o.parent]
		if p == nil {
			break
		}
		o = p
	}
	return o
}

// hierarchy returns root and every object nested beneath it.
func (e *Engine) hierarchy(root *Object) []*Object {
	out := []*Object{root}
	for i := 0; i < len(out); i++ {
		for _, cid := range out[i].children {
			if child := e.objects[cid]; child != nil && !child.unregistered {
				out = append(out, child)
			}
		}
	}
	return out
}

func (e *Engine) prepass() {
	for _, cl := range e.manager.clusters {
		cl.refreshView(e.viewer)
	}
	for _, c := range e.manager.combiners {
		if c.active && c.checkFrame == e.frame {
			e.markDirty(c)
		}
	}
	if e.viewer == nil {
		return
	}
	for _, o := range e.objects {
		if o == nil || o.unregistered {
			continue
		}
		o.distanceSq = e.viewer.DistanceSquared(o.position)
		if !o.autoLevel {
			continue
		}
		if lvl := o.levelForDistance(math32.Sqrt(o.distanceSq)); lvl != o.desired {
			e.setDesired(o, lvl)
		}
	}
}

// processMoves re-validates the cluster of every root that moved this frame.
func (e *Engine) processMoves() {
	moved := e.moved
	e.moved = nil
	for _, id := range moved {
		o := e.objects[id]
		if o == nil || o.unregistered || !o.revalidate {
			continue
		}
		o.revalidate = false
		if o.parent != NoObject {
			continue
		}
		c := e.manager.Combiner(o.combiner)
		if c == nil {
			continue
		}
		cl := e.manager.ClusterFor(o.position)
		if cl.id == c.cluster {
			if o.moveTo != NoCluster {
				for _, h := range e.hierarchy(o) {
					h.moveTo = NoCluster
					e.reconcile(h)
				}
			}
			continue
		}
		e.relocate(o, cl)
	}
}

// relocate moves a hierarchy to cl. Baked members leave through a Remove in their
// old combiner and land after it bakes, so no object is ever in two ledgers.
func (e *Engine) relocate(root *Object, cl *Cluster) {
	members := e.hierarchy(root)
	baked := false
	for _, h := range members {
		if h.inCombined {
			baked = true
			break
		}
	}

	if !baked {
		dest := e.admission(cl)
		for _, h := range members {
			h.moveTo = NoCluster
			e.reassign(h, dest)
			e.reconcile(h)
		}
		return
	}

	for _, h := range members {
		old := e.manager.Combiner(h.combiner)
		if old == nil {
			continue
		}
		if h.inCombined {
			e.record(old, h, ActionRemove, h.hiddenLevel())
		} else {
			e.cancel(old, h)
		}
		h.moveTo = cl.id
	}
	e.log.Debug("hierarchy relocating",
		zap.Uint32("object", uint32(root.id)),
		zap.Uint32("cluster", uint32(cl.id)),
		zap.Int("objects", len(members)))
}

// land finishes a relocation once o's removal has been baked.
func (e *Engine) land(o *Object) {
	target := o.moveTo
	cl := e.manager.Cluster(target)
	if cl == nil {
		return
	}
	root := e.root(o)
	var dest *Combiner
	if root.moveTo == NoCluster {
		if rc := e.manager.Combiner(root.combiner); rc != nil && rc.cluster == target {
			dest = rc
		}
	}
	for _, h := range e.hierarchy(root) {
		if h.moveTo != target || h.inCombined {
			continue
		}
		if dest == nil {
			dest = e.admission(cl)
		}
		h.moveTo = NoCluster
		e.reassign(h, dest)
		e.reconcile(h)
	}
}

// finishRelocation lands a relocating hierarchy right away once none of its members
// still waits for a Remove to bake in the old combiner.
func (e *Engine) finishRelocation(root *Object) {
	if root.moveTo == NoCluster {
		return
	}
	for _, h := range e.hierarchy(root) {
		if h.moveTo != NoCluster && h.inCombined {
			return
		}
	}
	e.land(root)
}

// processDirty visits every dirty combiner at most once, including combiners that
// become dirty while the frame is being processed.
func (e *Engine) processDirty() {
	processed := roaring.New()
	for {
		var batch []*Combiner
		for _, id := range e.dirty.ToArray() {
			if processed.Contains(id) {
				continue
			}
			c := e.manager.Combiner(CombinerID(id))
			if c == nil {
				e.dirty.Remove(id)
				continue
			}
			if !e.opts.BakeHidden {
				if cl := e.manager.Cluster(c.cluster); cl != nil && !cl.visible {
					continue
				}
			}
			batch = append(batch, c)
		}
		if len(batch) == 0 {
			return
		}
		for _, c := range batch {
			if !c.active || processed.Contains(uint32(c.id)) {
				continue
			}
			processed.Add(uint32(c.id))
			e.process(c, processed)
		}
	}
}

// process runs the split/merge check for c and then bakes whatever survives.
func (e *Engine) process(c *Combiner, processed *roaring.Bitmap) {
	switch f := c.Fullness(); {
	case f > e.opts.SplitThreshold:
		if targets := e.split(c); len(targets) > 0 {
			for _, t := range targets {
				processed.Add(uint32(t.id))
			}
			return
		}
	case f < e.opts.MergeThreshold:
		c = e.merge(c)
		processed.Add(uint32(c.id))
	}
	e.bake(c)
}

// recycleEmpty returns combiners with no members and no pending work to the pool.
func (e *Engine) recycleEmpty() {
	for _, c := range e.manager.combiners {
		if !c.active || c.checkFrame > e.frame {
			continue
		}
		if c.members.IsEmpty() && len(c.ledger) == 0 && c.verticesInMesh == 0 {
			e.clearDirty(c)
			e.manager.RecycleCombiner(c)
		}
	}
}
