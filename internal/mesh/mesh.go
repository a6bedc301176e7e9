// Package mesh holds the triangle mesh handed between the reconstruction
// output and the OBJ, PLY, GLB and STL codecs.
package mesh

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrEmptyMesh is returned when a mesh has no vertices or no triangles.
	ErrEmptyMesh = errors.New("mesh has no triangles")

	// ErrUnsupportedFormat is returned for file extensions with no codec.
	ErrUnsupportedFormat = errors.New("unsupported mesh format")
)

// Mesh is an indexed triangle mesh. Triangles index into Vertices.
type Mesh struct {
	Vertices  [][3]float32
	Triangles [][3]uint32
}

// Validate reports an error if the mesh is empty or references a vertex
// that does not exist.
func (m *Mesh) Validate() error {
	if m == nil || len(m.Vertices) == 0 || len(m.Triangles) == 0 {
		return ErrEmptyMesh
	}
	n := uint32(len(m.Vertices))
	for i, tri := range m.Triangles {
		for _, idx := range tri {
			if idx >= n {
				return fmt.Errorf("triangle %d references vertex %d of %d", i, idx, n)
			}
		}
	}
	for i, v := range m.Vertices {
		for _, c := range v {
			if math.IsNaN(float64(c)) || math.IsInf(float64(c), 0) {
				return fmt.Errorf("vertex %d has non-finite coordinate", i)
			}
		}
	}
	return nil
}

func vec(v [3]float32) r3.Vec {
	return r3.Vec{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])}
}

func (m *Mesh) corners(i int) (a, b, c r3.Vec) {
	t := m.Triangles[i]
	return vec(m.Vertices[t[0]]), vec(m.Vertices[t[1]]), vec(m.Vertices[t[2]])
}

// FaceNormal returns the unit normal of triangle i using counter-clockwise
// winding. Degenerate triangles yield the zero vector.
func (m *Mesh) FaceNormal(i int) [3]float32 {
	a, b, c := m.corners(i)
	n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
	l := r3.Norm(n)
	if l == 0 {
		return [3]float32{}
	}
	n = r3.Scale(1/l, n)
	return [3]float32{float32(n.X), float32(n.Y), float32(n.Z)}
}

// VertexNormals returns area-weighted per-vertex normals.
func (m *Mesh) VertexNormals() [][3]float32 {
	acc := make([]r3.Vec, len(m.Vertices))
	for i, t := range m.Triangles {
		a, b, c := m.corners(i)
		n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
		for _, idx := range t {
			acc[idx] = r3.Add(acc[idx], n)
		}
	}
	out := make([][3]float32, len(acc))
	for i, n := range acc {
		if l := r3.Norm(n); l > 0 {
			n = r3.Scale(1/l, n)
			out[i] = [3]float32{float32(n.X), float32(n.Y), float32(n.Z)}
		}
	}
	return out
}

// Stats summarises a mesh.
type Stats struct {
	Vertices    int        `json:"vertices"`
	Triangles   int        `json:"triangles"`
	Min         [3]float64 `json:"min"`
	Max         [3]float64 `json:"max"`
	SurfaceArea float64    `json:"surface_area"`
}

// Stats computes counts, the axis-aligned bounding box and the surface area.
func (m *Mesh) Stats() Stats {
	s := Stats{Vertices: len(m.Vertices), Triangles: len(m.Triangles)}
	if len(m.Vertices) == 0 {
		return s
	}
	box := r3.Box{Min: vec(m.Vertices[0]), Max: vec(m.Vertices[0])}
	for _, v := range m.Vertices[1:] {
		p := vec(v)
		box.Min = r3.Vec{X: math.Min(box.Min.X, p.X), Y: math.Min(box.Min.Y, p.Y), Z: math.Min(box.Min.Z, p.Z)}
		box.Max = r3.Vec{X: math.Max(box.Max.X, p.X), Y: math.Max(box.Max.Y, p.Y), Z: math.Max(box.Max.Z, p.Z)}
	}
	s.Min = [3]float64{box.Min.X, box.Min.Y, box.Min.Z}
	s.Max = [3]float64{box.Max.X, box.Max.Y, box.Max.Z}

	for i := range m.Triangles {
		a, b, c := m.corners(i)
		s.SurfaceArea += r3.Norm(r3.Cross(r3.Sub(b, a), r3.Sub(c, a))) / 2
	}
	return s
}
