package mesh

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/vib3/photomesh/internal/fsutil"
)

// Format identifies a mesh file format.
type Format string

const (
	FormatOBJ Format = "obj"
	FormatPLY Format = "ply"
	FormatGLB Format = "glb"
	FormatSTL Format = "stl"
)

// Formats lists every supported format.
var Formats = []Format{FormatOBJ, FormatPLY, FormatGLB, FormatSTL}

// ParseFormat maps a format name such as "obj" or ".OBJ" to a Format.
func ParseFormat(name string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimPrefix(name, ".")))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

// FormatFromPath derives the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return "", fmt.Errorf("%w: %q has no extension", ErrUnsupportedFormat, filepath.Base(path))
	}
	return ParseFormat(ext)
}

// Read decodes a mesh of the given format.
func Read(r io.Reader, format Format) (*Mesh, error) {
	var (
		m   *Mesh
		err error
	)
	switch format {
	case FormatOBJ:
		m, err = ReadOBJ(r)
	case FormatPLY:
		m, err = ReadPLY(r)
	case FormatGLB:
		m, err = ReadGLB(r)
	case FormatSTL:
		m, err = ReadSTL(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", format, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("read %s: %w", format, err)
	}
	return m, nil
}

// Write encodes m in the given format.
func Write(w io.Writer, format Format, m *Mesh) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("write %s: %w", format, err)
	}
	var err error
	switch format {
	case FormatOBJ:
		err = WriteOBJ(w, m)
	case FormatPLY:
		err = WritePLY(w, m)
	case FormatGLB:
		err = WriteGLB(w, m)
	case FormatSTL:
		err = WriteSTL(w, m)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", format, err)
	}
	return nil
}

// ReadFile reads the mesh at path, choosing the codec from its extension.
func ReadFile(fsys fsutil.FileSystem, path string) (*Mesh, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Read(bytes.NewReader(data), format)
}

// WriteFile writes m to path, choosing the codec from its extension.
func WriteFile(fsys fsutil.FileSystem, path string, m *Mesh) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	if err := Write(bw, format, m); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Convert reads src and writes it to dst, converting between the formats
// implied by their extensions. The decoded mesh is returned for callers
// that report statistics.
func Convert(fsys fsutil.FileSystem, src, dst string) (*Mesh, error) {
	m, err := ReadFile(fsys, src)
	if err != nil {
		return nil, err
	}
	if err := WriteFile(fsys, dst, m); err != nil {
		return nil, err
	}
	return m, nil
}
