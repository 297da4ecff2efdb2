// Package metrics exports LOD engine activity to Prometheus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Faultbox/midgard-lod/internal/engine/lod"
)

const namespace = "lod"

// Observer implements lod.Observer on top of Prometheus collectors.
type Observer struct {
	bakes        prometheus.Counter
	bakeLatency  prometheus.Histogram
	bakeFullness prometheus.Histogram
	transactions *prometheus.CounterVec
	splits       prometheus.Counter
	splitTargets prometheus.Histogram
	merges       prometheus.Counter
	recycles     prometheus.Counter
}

var _ lod.Observer = (*Observer)(nil)

// NewObserver creates the collectors and registers them with reg.
func NewObserver(reg prometheus.Registerer) *Observer {
	o := &Observer{
		bakes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bakes_total",
			Help:      "Total combined mesh rebuilds",
		}),
		bakeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bake_duration_seconds",
			Help:      "Time spent applying one combiner's transactions",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		bakeFullness: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bake_fullness_ratio",
			Help:      "Baked vertices relative to the vertex budget",
			Buckets:   []float64{0.1, 0.3, 0.5, 0.75, 1, 1.5, 2, 4},
		}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Transactions applied by bakes",
		}, []string{"action"}),
		splits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "splits_total",
			Help:      "Over-full combiners split",
		}),
		splitTargets: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "split_targets",
			Help:      "Combiners a split distributed its objects over",
			Buckets:   prometheus.LinearBuckets(2, 1, 6),
		}),
		merges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "Under-full combiners folded into a sibling",
		}),
		recycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recycles_total",
			Help:      "Combiners returned to the pool",
		}),
	}
	reg.MustRegister(o.bakes, o.bakeLatency, o.bakeFullness, o.transactions,
		o.splits, o.splitTargets, o.merges, o.recycles)
	return o
}

func (o *Observer) OnBake(_ lod.CombinerID, r lod.BakeReport) {
	o.bakes.Inc()
	o.bakeLatency.Observe(r.Duration.Seconds())
	if r.Budget > 0 {
		o.bakeFullness.Observe(float64(r.Vertices) / float64(r.Budget))
	}
	o.transactions.WithLabelValues(lod.ActionAdmit.String()).Add(float64(r.Admitted))
	o.transactions.WithLabelValues(lod.ActionRemove.String()).Add(float64(r.Removed))
	o.transactions.WithLabelValues(lod.ActionUpdate.String()).Add(float64(r.Updated))
}

func (o *Observer) OnSplit(_ lod.CombinerID, targets []lod.CombinerID) {
	o.splits.Inc()
	o.splitTargets.Observe(float64(len(targets)))
}

func (o *Observer) OnMerge(_, _ lod.CombinerID) {
	o.merges.Inc()
}

func (o *Observer) OnRecycle(lod.CombinerID) {
	o.recycles.Inc()
}

// Snapshot holds the latest engine stats for scrapes, which run on other goroutines
// than the frame loop.
type Snapshot struct {
	mu    sync.RWMutex
	stats lod.Stats
}

// Set stores the stats taken after a frame.
func (s *Snapshot) Set(stats lod.Stats) {
	s.mu.Lock()
	s.stats = stats
	s.mu.Unlock()
}

// Get returns the last stored stats.
func (s *Snapshot) Get() lod.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// RegisterSnapshot exposes the snapshot's engine state as gauges evaluated on scrape.
func RegisterSnapshot(reg prometheus.Registerer, s *Snapshot) {
	gauge := func(name, help string, value func(lod.Stats) float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return value(s.Get()) })
	}
	reg.MustRegister(
		gauge("frame", "Frames ticked", func(st lod.Stats) float64 { return float64(st.Frame) }),
		gauge("objects", "Registered objects", func(st lod.Stats) float64 { return float64(st.Objects) }),
		gauge("clusters", "Spatial clusters", func(st lod.Stats) float64 { return float64(st.Clusters) }),
		gauge("combiners", "Active combiners", func(st lod.Stats) float64 { return float64(st.Combiners) }),
		gauge("pooled_combiners", "Combiners waiting in the recycle pool", func(st lod.Stats) float64 { return float64(st.PooledCombiners) }),
		gauge("dirty_combiners", "Combiners with deferred work", func(st lod.Stats) float64 { return float64(st.DirtyCombiners) }),
		gauge("baked_vertices", "Vertices in all combined meshes", func(st lod.Stats) float64 { return float64(st.BakedVertices) }),
		gauge("queued_vertices", "Estimated net vertex change still queued", func(st lod.Stats) float64 { return float64(st.QueuedVertices) }),
	)
}
