// Package meshbuf provides a CPU-side geometry combiner: it concatenates the
// geometry of every submesh of one LOD combiner into a single vertex/index buffer.
package meshbuf

import (
	"sort"

	"github.com/Faultbox/midgard-lod/internal/engine/lod"
)

// Vertex is a mesh vertex with position, normal, and texture coordinates.
type Vertex struct {
	Position [3]float32
	Normal   [3]float32
	TexCoord [2]float32
}

// Geometry is the source data of one renderable.
type Geometry struct {
	Vertices []Vertex
	Indices  []uint32
}

// Bounds holds an axis-aligned bounding box.
type Bounds struct {
	Min [3]float32
	Max [3]float32
}

// Range locates one submesh inside the combined buffers.
type Range struct {
	ID          lod.SubmeshID
	FirstVertex int32
	VertexCount int32
	FirstIndex  int32
	IndexCount  int32
}

// Mesh is the combined buffer, ready for upload.
type Mesh struct {
	Vertices []Vertex
	Indices  []uint32
	Ranges   []Range
	Bounds   Bounds
}

// Library resolves renderable ids to geometry.
type Library map[lod.RenderableID]*Geometry

// Combiner implements lod.MeshCombiner. Submeshes whose renderable is missing from
// the library are tracked by their declared vertex count only.
type Combiner struct {
	id       lod.CombinerID
	library  Library
	parts    map[lod.SubmeshID]*Geometry
	counts   map[lod.SubmeshID]int
	mesh     Mesh
	active   bool
	rebuilds int
}

// NewCombiner creates an empty combiner reading geometry from library.
func NewCombiner(id lod.CombinerID, library Library) *Combiner {
	return &Combiner{
		id:      id,
		library: library,
		parts:   make(map[lod.SubmeshID]*Geometry),
		counts:  make(map[lod.SubmeshID]int),
		active:  true,
	}
}

// AddRemove applies removals then additions and rebuilds the combined buffer once.
func (c *Combiner) AddRemove(adds []lod.Submesh, removes []lod.SubmeshID) map[lod.SubmeshID]int {
	for _, id := range removes {
		delete(c.parts, id)
		delete(c.counts, id)
	}
	for _, s := range adds {
		geom := c.library[s.ID.Renderable]
		c.parts[s.ID] = geom
		if geom != nil {
			c.counts[s.ID] = len(geom.Vertices)
		} else {
			c.counts[s.ID] = s.Vertices
		}
	}
	c.rebuild()

	out := make(map[lod.SubmeshID]int, len(c.counts))
	for id, n := range c.counts {
		out[id] = n
	}
	return out
}

// Contains reports whether id is part of the combined mesh.
func (c *Combiner) Contains(id lod.SubmeshID) bool {
	_, ok := c.counts[id]
	return ok
}

// Clear drops every submesh but keeps the allocated buffers.
func (c *Combiner) Clear() {
	clear(c.parts)
	clear(c.counts)
	c.mesh.Vertices = c.mesh.Vertices[:0]
	c.mesh.Indices = c.mesh.Indices[:0]
	c.mesh.Ranges = c.mesh.Ranges[:0]
	c.mesh.Bounds = Bounds{}
}

// SetActive toggles whether the combined mesh should be drawn.
func (c *Combiner) SetActive(active bool) {
	c.active = active
}

// Active reports whether the combined mesh should be drawn.
func (c *Combiner) Active() bool { return c.active }

// Mesh returns the combined buffer of the last rebuild.
func (c *Combiner) Mesh() *Mesh { return &c.mesh }

// Rebuilds returns how many times the buffer has been rebuilt.
func (c *Combiner) Rebuilds() int { return c.rebuilds }

func (c *Combiner) rebuild() {
	ids := make([]lod.SubmeshID, 0, len(c.counts))
	for id := range c.counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Object != ids[j].Object {
			return ids[i].Object < ids[j].Object
		}
		return ids[i].Renderable < ids[j].Renderable
	})

	vertices := c.mesh.Vertices[:0]
	indices := c.mesh.Indices[:0]
	ranges := c.mesh.Ranges[:0]
	bounds := Bounds{
		Min: [3]float32{1e10, 1e10, 1e10},
		Max: [3]float32{-1e10, -1e10, -1e10},
	}

	for _, id := range ids {
		geom := c.parts[id]
		r := Range{ID: id, FirstVertex: int32(len(vertices)), FirstIndex: int32(len(indices))}
		if geom != nil {
			base := uint32(len(vertices))
			for _, v := range geom.Vertices {
				updateBounds(&bounds, v.Position)
			}
			vertices = append(vertices, geom.Vertices...)
			for _, idx := range geom.Indices {
				indices = append(indices, base+idx)
			}
		}
		r.VertexCount = int32(len(vertices)) - r.FirstVertex
		r.IndexCount = int32(len(indices)) - r.FirstIndex
		ranges = append(ranges, r)
	}

	if len(vertices) == 0 {
		bounds = Bounds{}
	}
	c.mesh = Mesh{Vertices: vertices, Indices: indices, Ranges: ranges, Bounds: bounds}
	c.rebuilds++
}

func updateBounds(b *Bounds, p [3]float32) {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] {
			b.Min[i] = p[i]
		}
		if p[i] > b.Max[i] {
			b.Max[i] = p[i]
		}
	}
}

// Store creates and remembers one Combiner per LOD combiner.
type Store struct {
	library   Library
	combiners map[lod.CombinerID]*Combiner
}

// NewStore creates a store sharing one geometry library.
func NewStore(library Library) *Store {
	return &Store{library: library, combiners: make(map[lod.CombinerID]*Combiner)}
}

// Factory returns the lod.MeshCombinerFactory for lod.Options.
func (s *Store) Factory() lod.MeshCombinerFactory {
	return func(id lod.CombinerID) lod.MeshCombiner {
		c := NewCombiner(id, s.library)
		s.combiners[id] = c
		return c
	}
}

// Get returns the combiner created for id, or nil.
func (s *Store) Get(id lod.CombinerID) *Combiner {
	return s.combiners[id]
}

// TotalVertices sums the vertices of every active combined mesh.
func (s *Store) TotalVertices() int {
	total := 0
	for _, c := range s.combiners {
		if c.active {
			total += len(c.mesh.Vertices)
		}
	}
	return total
}
