package meshbuf

// Patch generates a flat square patch of segments x segments quads on the XZ plane,
// centered on the origin with the given edge size. It has (segments+1)^2 vertices,
// which makes it a convenient stand-in for a detail level of known cost.
func Patch(segments int, size float32) *Geometry {
	if segments < 1 {
		segments = 1
	}
	n := segments + 1
	step := size / float32(segments)
	half := size / 2

	geom := &Geometry{
		Vertices: make([]Vertex, 0, n*n),
		Indices:  make([]uint32, 0, segments*segments*6),
	}
	for z := 0; z < n; z++ {
		for x := 0; x < n; x++ {
			geom.Vertices = append(geom.Vertices, Vertex{
				Position: [3]float32{float32(x)*step - half, 0, float32(z)*step - half},
				Normal:   [3]float32{0, 1, 0},
				TexCoord: [2]float32{float32(x) / float32(segments), float32(z) / float32(segments)},
			})
		}
	}
	for z := 0; z < segments; z++ {
		for x := 0; x < segments; x++ {
			i0 := uint32(z*n + x)
			i1 := i0 + 1
			i2 := i0 + uint32(n)
			i3 := i2 + 1
			geom.Indices = append(geom.Indices, i0, i2, i1, i1, i2, i3)
		}
	}
	return geom
}

// PatchVertices returns the vertex count Patch produces for segments.
func PatchVertices(segments int) int {
	if segments < 1 {
		segments = 1
	}
	return (segments + 1) * (segments + 1)
}
