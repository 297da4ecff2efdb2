package lod

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-lod/pkg/math"
)

// Default split/merge thresholds on the fullness ratio.
const (
	DefaultSplitThreshold = 2.0
	DefaultMergeThreshold = 0.3
	DefaultVertexBudget   = 65535
	DefaultCellSize       = 64.0
)

// PartitionKind selects how world positions map to clusters.
type PartitionKind uint8

const (
	// PartitionGrid quantizes positions into fixed-size cells, one cluster per occupied cell.
	PartitionGrid PartitionKind = iota
	// PartitionGlobal puts the whole scene in a single cluster.
	PartitionGlobal
	// PartitionMovingBounds uses one cluster whose bounds follow its members on request.
	PartitionMovingBounds
)

func (k PartitionKind) String() string {
	switch k {
	case PartitionGrid:
		return "grid"
	case PartitionGlobal:
		return "global"
	case PartitionMovingBounds:
		return "moving"
	default:
		return fmt.Sprintf("partition(%d)", uint8(k))
	}
}

// ParsePartitionKind converts a config string to a PartitionKind.
func ParsePartitionKind(s string) (PartitionKind, error) {
	switch s {
	case "grid", "":
		return PartitionGrid, nil
	case "global":
		return PartitionGlobal, nil
	case "moving", "moving_bounds":
		return PartitionMovingBounds, nil
	default:
		return 0, fmt.Errorf("%w: unknown partition strategy %q", ErrInvalidOptions, s)
	}
}

// PartitionStrategy is the closed set of partitioning rules. CellSize is only read
// for PartitionGrid.
type PartitionStrategy struct {
	Kind     PartitionKind
	CellSize float32
}

// Grid returns a grid strategy with the given cell edge length.
func Grid(cellSize float32) PartitionStrategy {
	return PartitionStrategy{Kind: PartitionGrid, CellSize: cellSize}
}

// Global returns the single-cluster strategy.
func Global() PartitionStrategy {
	return PartitionStrategy{Kind: PartitionGlobal}
}

// MovingBounds returns the single movable-bounds strategy.
func MovingBounds() PartitionStrategy {
	return PartitionStrategy{Kind: PartitionMovingBounds}
}

// Viewer answers the visibility and distance queries the engine needs each frame.
type Viewer interface {
	IsVisible(bounds math.AABB) bool
	DistanceSquared(p math.Vec3) float32
}

// Options configures an Engine.
type Options struct {
	Strategy       PartitionStrategy
	VertexBudget   int
	SplitThreshold float32
	MergeThreshold float32

	// BucketCaps limits how many objects per cluster may use each level; index is the
	// level. Empty or all-zero caps disable bucket capping.
	BucketCaps []int

	// BakeHidden bakes dirty combiners even when their cluster is not visible.
	BakeHidden bool

	// ConsistencyChecks runs CheckConsistency at the end of every frame. Expensive.
	ConsistencyChecks bool

	MeshFactory MeshCombinerFactory
	Viewer      Viewer
	Callbacks   Callbacks
	Observer    Observer
	Logger      *zap.Logger
}

// DefaultOptions returns grid partitioning with the default budget and thresholds.
func DefaultOptions() Options {
	return Options{
		Strategy:       Grid(DefaultCellSize),
		VertexBudget:   DefaultVertexBudget,
		SplitThreshold: DefaultSplitThreshold,
		MergeThreshold: DefaultMergeThreshold,
	}
}

// Validate reports the first option that New would reject. Zero budget and
// thresholds are rejected here; New fills them with defaults before validating.
func (o Options) Validate() error {
	if o.VertexBudget <= 0 {
		return fmt.Errorf("%w: vertex budget must be positive, got %d", ErrInvalidOptions, o.VertexBudget)
	}
	if o.MergeThreshold < 0 || o.SplitThreshold <= o.MergeThreshold {
		return fmt.Errorf("%w: need 0 <= merge threshold (%v) < split threshold (%v)",
			ErrInvalidOptions, o.MergeThreshold, o.SplitThreshold)
	}
	if o.Strategy.Kind == PartitionGrid && o.Strategy.CellSize <= 0 {
		return fmt.Errorf("%w: grid cell size must be positive, got %v", ErrInvalidOptions, o.Strategy.CellSize)
	}
	if o.Strategy.Kind > PartitionMovingBounds {
		return fmt.Errorf("%w: unknown partition strategy %d", ErrInvalidOptions, o.Strategy.Kind)
	}
	for i, c := range o.BucketCaps {
		if c < 0 {
			return fmt.Errorf("%w: bucket cap for level %d is negative", ErrInvalidOptions, i)
		}
	}
	return nil
}

func (o Options) capsEnabled() bool {
	for _, c := range o.BucketCaps {
		if c > 0 {
			return true
		}
	}
	return false
}
