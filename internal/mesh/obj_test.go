package mesh

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadOBJFaces(t *testing.T) {
	src := `# a unit square as a quad plus a negative-index triangle
o square
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vt 0 0
vn 0 0 1
usemtl none
f 1/1/1 2/1/1 3/1/1 4/1/1
v 0.5 0.5 1
f -5 -4 -1
`
	m, err := ReadOBJ(strings.NewReader(src))
	require.NoError(t, err)
	assert.Len(t, m.Vertices, 5)
	assert.Equal(t, [][3]uint32{{0, 1, 2}, {0, 2, 3}, {0, 1, 4}}, m.Triangles)
	assert.Equal(t, [3]float32{0.5, 0.5, 1}, m.Vertices[4])
}

func TestReadOBJErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"short vertex", "v 1 2\n", "line 1"},
		{"bad coordinate", "v 1 x 3\n", "bad vertex coordinate"},
		{"short face", "v 0 0 0\nf 1 1\n", "face with 2 vertices"},
		{"zero index", "v 0 0 0\nf 0 1 1\n", "equal to 0"},
		{"out of range", "v 0 0 0\nf 1 2 3\n", "out of range"},
		{"bad index", "v 0 0 0\nf a 1 1\n", "bad face index"},
		{"face before vertices", "f 1 2 3\nv 0 0 0\n", "out of range"},
		{"negative out of range", "v 0 0 0\nv 1 0 0\nf -1 -2 -3\n", "out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadOBJ(strings.NewReader(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWriteOBJ(t *testing.T) {
	m := &Mesh{
		Vertices:  [][3]float32{{0, 0, 0}, {1.5, 0, 0}, {0, -2, 0.25}},
		Triangles: [][3]uint32{{0, 1, 2}},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteOBJ(&buf, m))

	out := buf.String()
	assert.Contains(t, out, "v 1.500000 0.000000 0.000000\n")
	assert.Contains(t, out, "v 0.000000 -2.000000 0.250000\n")
	assert.Contains(t, out, "f 1 2 3\n")

	back, err := ReadOBJ(&buf)
	require.NoError(t, err)
	assert.Equal(t, m.Vertices, back.Vertices)
	assert.Equal(t, m.Triangles, back.Triangles)
}

func TestReadOBJDropsUnusedVertices(t *testing.T) {
	src := "v 9 9 9\nv 0 0 0\nv 1 0 0\nv 0 1 0\nf 2 3 4\n"
	m, err := ReadOBJ(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}, m.Vertices)
	assert.Equal(t, [][3]uint32{{0, 1, 2}}, m.Triangles)
}
