package lod

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// CheckConsistency walks every object and combiner and reports bookkeeping that
// contradicts itself. Violations are logged and returned joined under ErrIntegrity;
// nothing is corrected. It is meant for tests and development builds.
func (e *Engine) CheckConsistency() error {
	var errs []error
	report := func(msg string, fields ...zap.Field) {
		e.log.Error(msg, fields...)
		errs = append(errs, fmt.Errorf("%w: %s", ErrIntegrity, msg))
	}

	ledgers := make(map[ObjectID]int)
	for _, c := range e.manager.combiners {
		if !c.active {
			if len(c.ledger) > 0 || !c.members.IsEmpty() {
				report("pooled combiner holds state", zap.Uint32("combiner", uint32(c.id)))
			}
			continue
		}

		queued := 0
		for id, tx := range c.ledger {
			ledgers[id]++
			queued += tx.delta
			o := e.objects[id]
			if o == nil {
				report("ledger references released object",
					zap.Uint32("combiner", uint32(c.id)), zap.Uint32("object", uint32(id)))
				continue
			}
			if o.combiner != c.id {
				report("ledger entry for object assigned elsewhere",
					zap.Uint32("combiner", uint32(c.id)), zap.Uint32("object", uint32(id)),
					zap.Uint32("assigned", uint32(o.combiner)))
			}
			if tx.Action == ActionAdmit && o.inCombined {
				report("admit pending for object already in combined mesh",
					zap.Uint32("combiner", uint32(c.id)), zap.Uint32("object", uint32(id)))
			}
			if o.pending != tx.Action || !o.inQueue {
				report("object pending state disagrees with ledger",
					zap.Uint32("combiner", uint32(c.id)), zap.Uint32("object", uint32(id)),
					zap.Stringer("ledger", tx.Action), zap.Stringer("object_pending", o.pending))
			}
		}
		if queued != c.approxQueued {
			report("queued vertex estimate drifted",
				zap.Uint32("combiner", uint32(c.id)),
				zap.Int("expected", queued), zap.Int("actual", c.approxQueued))
		}

		it := c.members.Iterator()
		for it.HasNext() {
			id := ObjectID(it.Next())
			o := e.objects[id]
			if o == nil || o.combiner != c.id {
				report("member not assigned to combiner",
					zap.Uint32("combiner", uint32(c.id)), zap.Uint32("object", uint32(id)))
			}
		}

		for sub := range c.baked {
			o := e.objects[sub.Object]
			if o == nil || o.combiner != c.id || !o.inCombined || !o.visible(o.current) ||
				o.submesh(o.current) != sub {
				report("combined mesh holds submesh of object not baked there",
					zap.Uint32("combiner", uint32(c.id)), zap.Uint32("object", uint32(sub.Object)),
					zap.Uint32("renderable", uint32(sub.Renderable)))
			}
		}

		if cl := e.manager.Cluster(c.cluster); cl == nil {
			report("combiner without cluster", zap.Uint32("combiner", uint32(c.id)))
		}
	}

	for _, o := range e.objects {
		if o == nil {
			continue
		}
		if ledgers[o.id] > 1 {
			report("object pending in several ledgers", zap.Uint32("object", uint32(o.id)))
		}
		if o.inQueue != (ledgers[o.id] == 1) {
			report("object queue flag disagrees with ledgers",
				zap.Uint32("object", uint32(o.id)), zap.Bool("in_queue", o.inQueue))
		}
		c := e.manager.Combiner(o.combiner)
		if c == nil {
			report("object assigned to inactive combiner",
				zap.Uint32("object", uint32(o.id)), zap.Uint32("combiner", uint32(o.combiner)))
			continue
		}
		if !o.unregistered && !c.members.Contains(uint32(o.id)) {
			report("object missing from its combiner's members",
				zap.Uint32("object", uint32(o.id)), zap.Uint32("combiner", uint32(c.id)))
		}
		if o.inCombined && (!o.visible(o.current) || !c.mesh.Contains(o.submesh(o.current))) {
			report("object believed baked is absent from combined mesh",
				zap.Uint32("object", uint32(o.id)), zap.Uint32("combiner", uint32(c.id)))
		}
		if e.manager.strategy.Kind == PartitionGrid && o.parent == NoObject && !o.unregistered &&
			!o.revalidate && o.moveTo == NoCluster {
			switch cl := e.manager.LookupCluster(o.position); {
			case cl == nil:
				report("object cell has no cluster",
					zap.Uint32("object", uint32(o.id)), zap.Uint32("cluster", uint32(c.cluster)))
			case cl.id != c.cluster:
				report("object combiner belongs to another cell",
					zap.Uint32("object", uint32(o.id)),
					zap.Uint32("cluster", uint32(c.cluster)), zap.Uint32("expected", uint32(cl.id)))
			}
		}
	}

	return errors.Join(errs...)
}
