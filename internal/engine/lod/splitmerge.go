package lod

import (
	"sort"

	"go.uber.org/zap"
)

// hierarchyLoad is a root and its nested objects, which always move together.
type hierarchyLoad struct {
	root    *Object
	objects []*Object
	cost    int
}

// hierarchies groups c's members by root, skipping objects that are leaving.
// The cost of each group is estimated from current and pending state.
func (e *Engine) hierarchies(c *Combiner) []hierarchyLoad {
	index := make(map[ObjectID]int)
	var out []hierarchyLoad
	for _, id := range c.Members() {
		o := e.objects[id]
		if o == nil || o.unregistered || o.moveTo != NoCluster {
			continue
		}
		r := e.root(o)
		i, ok := index[r.id]
		if !ok {
			i = len(out)
			index[r.id] = i
			out = append(out, hierarchyLoad{root: r})
		}
		out[i].objects = append(out[i].objects, o)
		out[i].cost += o.settledCost()
	}
	return out
}

// drain force-removes every listed object from c and bakes c.
func (e *Engine) drain(c *Combiner, objects []*Object) {
	for _, o := range objects {
		switch {
		case o.inCombined:
			e.record(c, o, ActionRemove, o.hiddenLevel())
		case o.inQueue:
			e.cancel(c, o)
		}
	}
	e.bake(c)
	// Callbacks fired by the bake may have queued drained objects again.
	for _, o := range objects {
		if o.combiner == c.id {
			e.cancel(c, o)
		}
	}
}

// moveObject reassigns a drained o to dest and queues whatever brings it back to its target level.
func (e *Engine) moveObject(o *Object, dest *Combiner) {
	if e.objects[o.id] == nil || o.unregistered {
		return
	}
	e.reassign(o, dest)
	e.reconcile(o)
}

// split redistributes an over-full combiner's hierarchies over several combiners of
// the same cluster. It returns every combiner it baked, or nil when c holds fewer
// than two hierarchies and cannot be divided.
func (e *Engine) split(c *Combiner) []*Combiner {
	hs := e.hierarchies(c)
	if len(hs) < 2 {
		return nil
	}
	cl := e.manager.Cluster(c.cluster)

	total := 0
	var all []*Object
	for _, h := range hs {
		total += h.cost
		all = append(all, h.objects...)
	}
	count := (total + c.budget - 1) / c.budget
	if count < 2 {
		count = 2
	}
	if count > len(hs) {
		count = len(hs)
	}

	e.drain(c, all)

	targets := []*Combiner{c}
	loads := []int{c.Load()}
	for _, id := range cl.Combiners() {
		if len(targets) == count {
			break
		}
		s := e.manager.Combiner(id)
		if s == nil || s == c || s.Fullness() >= e.opts.MergeThreshold {
			continue
		}
		targets = append(targets, s)
		loads = append(loads, s.Load())
	}
	for len(targets) < count {
		targets = append(targets, e.manager.FreshCombiner(cl))
		loads = append(loads, 0)
	}

	sort.SliceStable(hs, func(i, j int) bool {
		if hs[i].cost != hs[j].cost {
			return hs[i].cost > hs[j].cost
		}
		return hs[i].root.id < hs[j].root.id
	})
	for _, h := range hs {
		best := 0
		for i := range loads {
			if loads[i] < loads[best] {
				best = i
			}
		}
		loads[best] += h.cost
		for _, o := range h.objects {
			e.moveObject(o, targets[best])
		}
	}

	ids := make([]CombinerID, len(targets))
	for i, t := range targets {
		e.bake(t)
		ids[i] = t.id
	}

	e.stats.splits++
	e.observer.OnSplit(c.id, ids)
	e.log.Debug("combiner split",
		zap.Uint32("combiner", uint32(c.id)),
		zap.Uint32("cluster", uint32(c.cluster)),
		zap.Int("hierarchies", len(hs)),
		zap.Int("vertices", total),
		zap.Int("targets", len(targets)))
	return targets
}

// merge folds under-full siblings of the same cluster together while c stays below
// the merge threshold and a partner fits. It returns the combiner that survives.
func (e *Engine) merge(c *Combiner) *Combiner {
	cl := e.manager.Cluster(c.cluster)
	if cl == nil {
		return c
	}
	for c.active && c.Fullness() < e.opts.MergeThreshold {
		var partner *Combiner
		for _, id := range cl.combiners {
			s := e.manager.Combiner(id)
			if s == nil || s == c || s.Fullness() >= e.opts.MergeThreshold {
				continue
			}
			if c.Load()+s.Load() > c.budget {
				continue
			}
			partner = s
			break
		}
		if partner == nil {
			break
		}

		src, dst := c, partner
		if src.Load() > dst.Load() || (src.Load() == dst.Load() && src.id < dst.id) {
			src, dst = dst, src
		}
		e.migrate(src, dst)
		c = dst
	}
	return c
}

// migrate moves every member of src into dst, bakes dst and recycles src.
func (e *Engine) migrate(src, dst *Combiner) {
	var members []*Object
	for _, id := range src.Members() {
		if o := e.objects[id]; o != nil {
			members = append(members, o)
		}
	}
	e.drain(src, members)
	for _, id := range src.Members() {
		if o := e.objects[id]; o != nil {
			e.moveObject(o, dst)
		}
	}
	e.bake(dst)

	e.clearDirty(src)
	e.manager.RecycleCombiner(src)
	e.stats.merges++
	e.observer.OnMerge(src.id, dst.id)
	e.log.Debug("combiners merged",
		zap.Uint32("source", uint32(src.id)),
		zap.Uint32("dest", uint32(dst.id)),
		zap.Uint32("cluster", uint32(dst.cluster)),
		zap.Int("vertices", dst.verticesInMesh))
}
