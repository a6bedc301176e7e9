package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"

	"github.com/vib3/photomesh/internal/mesh"
	"github.com/vib3/photomesh/internal/pipeline"
)

// imageExtensions are the photo types accepted for reconstruction.
var imageExtensions = []string{"jpg", "jpeg", "png"}

// convertibleFormats are the mesh types accepted by the conversion panel.
var convertibleFormats = []mesh.Format{mesh.FormatOBJ, mesh.FormatPLY, mesh.FormatSTL}

var errUploadTooLarge = errors.New("upload exceeds the configured size limit")

// parseUpload limits the request body and parses the multipart form.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) error {
	limit := s.cfg.GetMaxUploadBytes()
	if r.ContentLength > limit {
		return errUploadTooLarge
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errUploadTooLarge
		}
		return fmt.Errorf("invalid multipart form: %w", err)
	}
	return nil
}

func uploadStatus(err error) int {
	if errors.Is(err, errUploadTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func extOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}
	return data, nil
}

// readImages loads the uploaded photographs. Each must carry a jpg, jpeg or
// png extension and its content must sniff as JPEG or PNG.
func readImages(files []*multipart.FileHeader) ([]pipeline.Image, error) {
	images := make([]pipeline.Image, 0, len(files))
	for _, fh := range files {
		if !contains(imageExtensions, extOf(fh.Filename)) {
			return nil, fmt.Errorf("unsupported image type: %s", fh.Filename)
		}
		data, err := readPart(fh)
		if err != nil {
			return nil, err
		}
		kind, err := filetype.Match(data)
		if err != nil || (kind.MIME.Value != "image/jpeg" && kind.MIME.Value != "image/png") {
			return nil, fmt.Errorf("%s is not a JPEG or PNG image", fh.Filename)
		}
		images = append(images, pipeline.Image{Name: fh.Filename, Data: data})
	}
	return images, nil
}

// checkMeshUpload returns the format of an uploaded mesh. Content that
// sniffs as any known binary type (images, archives, documents) is
// rejected since none of the mesh formats have a registered signature.
func checkMeshUpload(name string, data []byte) (mesh.Format, error) {
	f, err := mesh.FormatFromPath(name)
	if err != nil || f == mesh.FormatGLB {
		return "", fmt.Errorf("unsupported file format: %s (expected .obj, .ply or .stl)", name)
	}
	if kind, _ := filetype.Match(data); kind != filetype.Unknown {
		return "", fmt.Errorf("%s looks like %s, not a mesh", name, kind.MIME.Value)
	}
	return f, nil
}
