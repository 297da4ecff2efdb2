package viewer

import (
	"testing"

	"github.com/Faultbox/midgard-lod/internal/engine/lod"
	"github.com/Faultbox/midgard-lod/pkg/math"
)

var (
	_ lod.Viewer = (*Point)(nil)
	_ lod.Viewer = (*Orbit)(nil)
)

func TestPointVisibility(t *testing.T) {
	p := &Point{Position: math.Vec3{}, MaxDistance: 10}
	near := math.AABB{Min: math.Vec3{X: 5}, Max: math.Vec3{X: 6, Y: 1, Z: 1}}
	far := math.AABB{Min: math.Vec3{X: 50}, Max: math.Vec3{X: 60, Y: 1, Z: 1}}

	if !p.IsVisible(near) {
		t.Error("expected near box to be visible")
	}
	if p.IsVisible(far) {
		t.Error("expected far box to be hidden")
	}

	p.MaxDistance = 0
	if !p.IsVisible(far) {
		t.Error("unlimited viewer should see everything")
	}
}

func TestPointDistance(t *testing.T) {
	p := &Point{Position: math.Vec3{X: 1}}
	if got := p.DistanceSquared(math.Vec3{X: 4, Y: 4}); got != 25 {
		t.Errorf("DistanceSquared() = %v, want 25", got)
	}
}

func TestOrbitPosition(t *testing.T) {
	o := NewOrbit()
	o.RotationX = 0
	o.RotationY = 0
	o.Distance = 100
	o.Center = math.Vec3{X: 10}

	pos := o.Position()
	if pos.X < 9.99 || pos.X > 10.01 || pos.Z < 99.99 || pos.Z > 100.01 {
		t.Errorf("Position() = %v, want ~{10 0 100}", pos)
	}
}

func TestOrbitClamp(t *testing.T) {
	o := NewOrbit()
	o.Rotate(0, 10)
	if o.RotationX != o.MaxPitch {
		t.Errorf("pitch = %v, want clamped to %v", o.RotationX, o.MaxPitch)
	}
	o.Zoom(0.99)
	if o.Distance != o.MinDistance {
		t.Errorf("distance = %v, want clamped to %v", o.Distance, o.MinDistance)
	}
}

func TestOrbitFitToBounds(t *testing.T) {
	o := NewOrbit()
	o.FitToBounds(math.AABB{Min: math.Vec3{}, Max: math.Vec3{X: 1000, Y: 10, Z: 400}})
	if o.Center != (math.Vec3{X: 500, Y: 5, Z: 200}) {
		t.Errorf("Center = %v", o.Center)
	}
	if o.Distance != 750 {
		t.Errorf("Distance = %v, want 750", o.Distance)
	}
}
