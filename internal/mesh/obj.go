package mesh

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/EliCDavis/polyform/formats/obj"
)

// ReadOBJ decodes the geometry of a Wavefront OBJ stream. Vertex positions
// and faces are kept; texture coordinates, normals, groups and materials
// are ignored. Polygons are triangulated as fans.
func ReadOBJ(r io.Reader) (*Mesh, error) {
	canonical, err := canonicalOBJ(r)
	if err != nil {
		return nil, err
	}
	meshes, _, err := obj.ReadMesh(bytes.NewReader(canonical))
	if err != nil {
		return nil, err
	}
	m := &Mesh{}
	for _, om := range meshes {
		appendModel(m, om.Mesh)
	}
	return m, nil
}

// canonicalOBJ checks an OBJ stream and rewrites it as "v x y z" and
// "f a b c" lines with positive one-based indices. The decoder reads only
// the first three corners of a face and indexes vertices unchecked.
func canonicalOBJ(r io.Reader) ([]byte, error) {
	var out bytes.Buffer
	vertices := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		switch fields[0] {
		case "v":
			if err := checkOBJVertex(fields[1:]); err != nil {
				return nil, fmt.Errorf("obj line %d: %w", line, err)
			}
			fmt.Fprintf(&out, "v %s %s %s\n", fields[1], fields[2], fields[3])
			vertices++
		case "f":
			idx, err := parseOBJFace(fields[1:], vertices)
			if err != nil {
				return nil, fmt.Errorf("obj line %d: %w", line, err)
			}
			for i := 1; i+1 < len(idx); i++ {
				fmt.Fprintf(&out, "f %d %d %d\n", idx[0]+1, idx[i]+1, idx[i+1]+1)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func checkOBJVertex(fields []string) error {
	if len(fields) < 3 {
		return fmt.Errorf("vertex with %d coordinates", len(fields))
	}
	for _, f := range fields[:3] {
		if _, err := strconv.ParseFloat(f, 32); err != nil {
			return fmt.Errorf("bad vertex coordinate %q", f)
		}
	}
	return nil
}

// parseOBJFace returns the zero-based position indices of a face given the
// number of vertices read so far.
func parseOBJFace(fields []string, vertices int) ([]int, error) {
	if len(fields) < 3 {
		return nil, fmt.Errorf("face with %d vertices", len(fields))
	}
	idx := make([]int, len(fields))
	for pos, f := range fields {
		// v, v/vt, v//vn or v/vt/vn; only the position index matters.
		vfield, _, _ := strings.Cut(f, "/")
		val, err := strconv.Atoi(vfield)
		if err != nil {
			return nil, fmt.Errorf("bad face index %q", f)
		}
		switch {
		case val > 0:
			val--
		case val < 0:
			// Negative indices are relative to the last parsed vertex.
			val += vertices
		default:
			return nil, fmt.Errorf("face vertex index equal to 0")
		}
		if val < 0 || val >= vertices {
			return nil, fmt.Errorf("face index %q out of range", f)
		}
		idx[pos] = val
	}
	return idx, nil
}

// WriteOBJ encodes m as a Wavefront OBJ stream with one-based indices.
func WriteOBJ(w io.Writer, m *Mesh) error {
	return obj.WriteMesh(toModel(m), "", w)
}
