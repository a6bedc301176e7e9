package mesh

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hschendel/stl"
)

// ReadSTL decodes an ASCII or binary STL stream. STL stores each triangle
// with its own three corners, so identical corners are welded back into
// shared vertices.
func ReadSTL(r io.Reader) (*Mesh, error) {
	// the decoder seeks to tell ASCII from binary
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read stl: %w", err)
	}
	solid, err := stl.ReadAll(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	m := &Mesh{Triangles: make([][3]uint32, 0, len(solid.Triangles))}
	index := make(map[[3]float32]uint32, len(solid.Triangles))
	for _, t := range solid.Triangles {
		var tri [3]uint32
		for i, v := range t.Vertices {
			key := [3]float32(v)
			idx, ok := index[key]
			if !ok {
				idx = uint32(len(m.Vertices))
				index[key] = idx
				m.Vertices = append(m.Vertices, key)
			}
			tri[i] = idx
		}
		m.Triangles = append(m.Triangles, tri)
	}
	return m, nil
}

// WriteSTL encodes m as a binary STL stream with computed face normals.
func WriteSTL(w io.Writer, m *Mesh) error {
	solid := &stl.Solid{
		Name:      "photomesh",
		Triangles: make([]stl.Triangle, len(m.Triangles)),
	}
	for i, t := range m.Triangles {
		solid.Triangles[i] = stl.Triangle{
			Normal: stl.Vec3(m.FaceNormal(i)),
			Vertices: [3]stl.Vec3{
				stl.Vec3(m.Vertices[t[0]]),
				stl.Vec3(m.Vertices[t[1]]),
				stl.Vec3(m.Vertices[t[2]]),
			},
		}
	}
	return solid.WriteAll(w)
}
