// Package viewer provides camera-backed implementations of lod.Viewer.
package viewer

import (
	"github.com/chewxy/math32"

	"github.com/Faultbox/midgard-lod/pkg/math"
)

// Point is a viewer at a fixed position that sees everything within MaxDistance.
type Point struct {
	Position math.Vec3
	// MaxDistance is the view distance. Zero means unlimited.
	MaxDistance float32
}

// IsVisible reports whether any part of bounds is within the view distance.
func (p *Point) IsVisible(bounds math.AABB) bool {
	if p.MaxDistance <= 0 {
		return true
	}
	return bounds.DistanceSquared(p.Position) <= p.MaxDistance*p.MaxDistance
}

// DistanceSquared returns the squared distance from the viewer to q.
func (p *Point) DistanceSquared(q math.Vec3) float32 {
	return p.Position.DistanceSquared(q)
}

// Orbit orbits around a center point, like an editor or map preview camera.
type Orbit struct {
	Center math.Vec3

	Distance  float32 // Distance from center
	RotationX float32 // Pitch (vertical angle, radians)
	RotationY float32 // Yaw (horizontal angle, radians)

	MinDistance float32
	MaxDistance float32
	MinPitch    float32
	MaxPitch    float32

	// ViewDistance limits IsVisible. Zero means unlimited.
	ViewDistance float32
}

// NewOrbit creates an orbit viewer with default settings.
func NewOrbit() *Orbit {
	return &Orbit{
		Distance:    200.0,
		RotationX:   0.5,
		MinDistance: 50.0,
		MaxDistance: 5000.0,
		MinPitch:    0.1,
		MaxPitch:    1.5,
	}
}

// Position returns the camera position in world space.
func (o *Orbit) Position() math.Vec3 {
	x := o.Distance * math32.Cos(o.RotationX) * math32.Sin(o.RotationY)
	y := o.Distance * math32.Sin(o.RotationX)
	z := o.Distance * math32.Cos(o.RotationX) * math32.Cos(o.RotationY)
	return o.Center.Add(math.Vec3{X: x, Y: y, Z: z})
}

// Rotate changes yaw and pitch, clamping pitch to the configured range.
func (o *Orbit) Rotate(yaw, pitch float32) {
	o.RotationY += yaw
	o.RotationX += pitch
	if o.RotationX < o.MinPitch {
		o.RotationX = o.MinPitch
	}
	if o.RotationX > o.MaxPitch {
		o.RotationX = o.MaxPitch
	}
}

// Zoom scales the orbit distance by (1 - delta), clamped to the configured range.
func (o *Orbit) Zoom(delta float32) {
	o.Distance -= delta * o.Distance
	if o.Distance < o.MinDistance {
		o.Distance = o.MinDistance
	}
	if o.Distance > o.MaxDistance {
		o.Distance = o.MaxDistance
	}
}

// FitToBounds centers the orbit on b and backs off far enough to frame it.
func (o *Orbit) FitToBounds(b math.AABB) {
	o.Center = b.Center()
	size := b.Size()
	o.Distance = math32.Max(size.X, size.Z) * 0.75
	if o.Distance < o.MinDistance {
		o.Distance = o.MinDistance
	}
	o.RotationX = 0.6
	o.RotationY = 0
}

// IsVisible reports whether bounds is within the view distance of the camera.
func (o *Orbit) IsVisible(bounds math.AABB) bool {
	if o.ViewDistance <= 0 {
		return true
	}
	return bounds.DistanceSquared(o.Position()) <= o.ViewDistance*o.ViewDistance
}

// DistanceSquared returns the squared distance from the camera to p.
func (o *Orbit) DistanceSquared(p math.Vec3) float32 {
	return o.Position().DistanceSquared(p)
}
