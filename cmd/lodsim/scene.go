package main

import (
	"fmt"
	"math/rand"

	"github.com/Faultbox/midgard-lod/internal/config"
	"github.com/Faultbox/midgard-lod/internal/engine/lod"
	"github.com/Faultbox/midgard-lod/internal/engine/meshbuf"
	"github.com/Faultbox/midgard-lod/pkg/math"
)

// Patch segment counts per detail level, finest first.
var levelSegments = []int{16, 8, 2}

const (
	patchSize = 4.0
	// Every nth object carries a nested child that follows it around.
	childEvery = 8
	// Share of roots replaced by fresh objects each frame.
	churn = 0.002
)

// detailLevels builds the geometry library and the level list every simulated
// object shares. Levels switch at fractions of the view distance; past it the
// object is hidden.
func detailLevels(viewDistance float32) (meshbuf.Library, []lod.Level) {
	lib := make(meshbuf.Library, len(levelSegments))
	levels := make([]lod.Level, len(levelSegments))
	for i, s := range levelSegments {
		id := lod.RenderableID(i + 1)
		lib[id] = meshbuf.Patch(s, patchSize)
		levels[i] = lod.Level{Renderable: id, Vertices: meshbuf.PatchVertices(s)}
	}
	if viewDistance > 0 {
		levels[0].MaxDistance = viewDistance / 4
		levels[1].MaxDistance = viewDistance / 2
		levels[2].MaxDistance = viewDistance
	}
	return lib, levels
}

type walker struct {
	id       lod.ObjectID
	position math.Vec3
	child    lod.ObjectID
}

// scene is a deterministic random walk of objects over a square area.
type scene struct {
	engine *lod.Engine
	cfg    config.SimulationConfig
	levels []lod.Level
	rng    *rand.Rand

	walkers []walker
	spawned int
}

func newScene(e *lod.Engine, cfg config.SimulationConfig, levels []lod.Level) (*scene, error) {
	s := &scene{
		engine: e,
		cfg:    cfg,
		levels: levels,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
	for i := 0; i < cfg.Objects; i++ {
		if err := s.spawn(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *scene) bounds() math.AABB {
	return math.AABB{Max: math.Vec3{X: s.cfg.Area, Y: 1, Z: s.cfg.Area}}
}

func (s *scene) randomPosition() math.Vec3 {
	return math.Vec3{X: s.rng.Float32() * s.cfg.Area, Z: s.rng.Float32() * s.cfg.Area}
}

func (s *scene) spawn() error {
	w := walker{position: s.randomPosition()}
	id, err := s.engine.Register(s.levels, w.position, lod.RegisterOptions{AutoLevel: true})
	if err != nil {
		return fmt.Errorf("registering object %d: %w", s.spawned, err)
	}
	w.id = id
	if s.spawned%childEvery == 0 {
		child, err := s.engine.Register(s.levels, w.position.Add(math.Vec3{Y: 1}),
			lod.RegisterOptions{AutoLevel: true, Parent: id})
		if err != nil {
			return fmt.Errorf("registering child of %d: %w", id, err)
		}
		w.child = child
	}
	s.walkers = append(s.walkers, w)
	s.spawned++
	return nil
}

// step moves every walker, replaces a few of them and ticks the engine once.
func (s *scene) step() error {
	for i := range s.walkers {
		w := &s.walkers[i]
		d := math.Vec3{
			X: (s.rng.Float32()*2 - 1) * s.cfg.Speed,
			Z: (s.rng.Float32()*2 - 1) * s.cfg.Speed,
		}
		p := w.position.Add(d).Max(math.Vec3{}).Min(math.Vec3{X: s.cfg.Area, Z: s.cfg.Area})
		if p == w.position {
			continue
		}
		w.position = p
		if err := s.engine.SetPosition(w.id, p); err != nil {
			return err
		}
		if w.child != lod.NoObject {
			if err := s.engine.SetPosition(w.child, p.Add(math.Vec3{Y: 1})); err != nil {
				return err
			}
		}
	}

	for i := 0; i < len(s.walkers); i++ {
		if s.rng.Float32() >= churn {
			continue
		}
		if err := s.engine.Unregister(s.walkers[i].id); err != nil {
			return err
		}
		// The child outlives its parent as an independent object; drop it too.
		if c := s.walkers[i].child; c != lod.NoObject {
			if err := s.engine.Unregister(c); err != nil {
				return err
			}
		}
		s.walkers = append(s.walkers[:i], s.walkers[i+1:]...)
		i--
		if err := s.spawn(); err != nil {
			return err
		}
	}

	s.engine.TickFrame()
	return nil
}
