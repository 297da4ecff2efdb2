package lod

import (
	"sort"

	"go.uber.org/zap"
)

// applyBucketCaps runs bucket capping on every cluster whose ordering may have
// changed: all clusters when a viewer drives distances, otherwise dirty ones only.
func (e *Engine) applyBucketCaps() {
	if !e.opts.capsEnabled() {
		return
	}
	for _, cl := range e.manager.clusters {
		if e.viewer == nil && !e.clusterDirty(cl) {
			continue
		}
		if changed := e.capCluster(cl); len(changed) > 0 {
			e.log.Debug("bucket caps applied",
				zap.Uint32("cluster", uint32(cl.id)),
				zap.Int("combiners", len(changed)))
		}
	}
}

func (e *Engine) clusterDirty(cl *Cluster) bool {
	for _, id := range cl.combiners {
		if e.dirty.Contains(uint32(id)) {
			return true
		}
	}
	return false
}

// capCluster limits how many objects of cl use each level. Nearest objects claim
// buckets first; an object only ever moves to a coarser bucket than its natural
// level and only claims buckets for levels it has. Objects that find no room are
// pushed one level past the coarsest bucket. It returns the combiners whose objects changed target level.
func (e *Engine) capCluster(cl *Cluster) []CombinerID {
	caps := e.opts.BucketCaps

	var objects []*Object
	for _, cid := range cl.combiners {
		c := e.manager.Combiner(cid)
		if c == nil {
			continue
		}
		for _, id := range c.Members() {
			o := e.objects[id]
			if o == nil || o.unregistered || o.moveTo != NoCluster {
				continue
			}
			objects = append(objects, o)
		}
	}
	sort.SliceStable(objects, func(i, j int) bool {
		if objects[i].distanceSq != objects[j].distanceSq {
			return objects[i].distanceSq < objects[j].distanceSq
		}
		return objects[i].id < objects[j].id
	})

	used := make([]int, len(caps))
	changed := make(map[CombinerID]bool)
	var out []CombinerID
	for _, o := range objects {
		level := o.desired
		if o.visible(level) && level < len(caps) {
			assigned := len(caps)
			for b := level; b < min(len(caps), len(o.levels)); b++ {
				if used[b] < caps[b] {
					assigned = b
					used[b]++
					break
				}
			}
			level = o.clampLevel(assigned)
		}
		if level == o.target {
			continue
		}
		o.target = level
		e.reconcile(o)
		if !changed[o.combiner] {
			changed[o.combiner] = true
			out = append(out, o.combiner)
		}
	}
	return out
}
