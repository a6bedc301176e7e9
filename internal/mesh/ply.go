package mesh

import (
	"fmt"
	"io"

	"github.com/EliCDavis/polyform/formats/ply"
	"github.com/EliCDavis/polyform/modeling"
	"github.com/EliCDavis/vector/vector3"
)

// ReadPLY decodes a triangle mesh from an ASCII or binary PLY stream.
func ReadPLY(r io.Reader) (*Mesh, error) {
	pm, err := ply.ReadMesh(r)
	if err != nil {
		return nil, err
	}
	if pm.Topology() != modeling.TriangleTopology {
		return nil, fmt.Errorf("ply contains no triangle faces (topology %d)", pm.Topology())
	}
	m := &Mesh{}
	appendModel(m, *pm)
	return m, nil
}

// ReadPointCloud decodes vertex positions from a PLY stream, ignoring any
// faces. It is used for the fused point cloud, which has no faces.
func ReadPointCloud(r io.Reader) ([][3]float32, error) {
	pm, err := ply.ReadMesh(r)
	if err != nil {
		return nil, err
	}
	if !pm.HasFloat3Attribute(modeling.PositionAttribute) {
		return nil, nil
	}
	positions := pm.Float3Attribute(modeling.PositionAttribute)
	points := make([][3]float32, positions.Len())
	for i := range points {
		p := positions.At(i)
		points[i] = [3]float32{float32(p.X()), float32(p.Y()), float32(p.Z())}
	}
	return points, nil
}

// WritePLY encodes m as a binary little-endian PLY stream.
func WritePLY(w io.Writer, m *Mesh) error {
	return ply.WriteBinary(w, toModel(m))
}

// toModel converts m to a polyform triangle mesh carrying positions only.
func toModel(m *Mesh) modeling.Mesh {
	positions := make([]vector3.Float64, len(m.Vertices))
	for i, v := range m.Vertices {
		positions[i] = vector3.New(float64(v[0]), float64(v[1]), float64(v[2]))
	}
	indices := make([]int, 0, len(m.Triangles)*3)
	for _, t := range m.Triangles {
		indices = append(indices, int(t[0]), int(t[1]), int(t[2]))
	}
	return modeling.NewTriangleMesh(indices).
		SetFloat3Attribute(modeling.PositionAttribute, positions)
}

// appendModel adds the positions and triangles of a polyform mesh to m,
// offsetting its indices past the vertices m already has.
func appendModel(m *Mesh, pm modeling.Mesh) {
	if !pm.HasFloat3Attribute(modeling.PositionAttribute) {
		return
	}
	offset := uint32(len(m.Vertices))
	positions := pm.Float3Attribute(modeling.PositionAttribute)
	for i := 0; i < positions.Len(); i++ {
		p := positions.At(i)
		m.Vertices = append(m.Vertices, [3]float32{float32(p.X()), float32(p.Y()), float32(p.Z())})
	}
	indices := pm.Indices()
	for i := 0; i+2 < indices.Len(); i += 3 {
		m.Triangles = append(m.Triangles, [3]uint32{
			offset + uint32(indices.At(i)),
			offset + uint32(indices.At(i+1)),
			offset + uint32(indices.At(i+2)),
		})
	}
}
