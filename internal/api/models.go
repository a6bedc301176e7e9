package api

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/vib3/photomesh/internal/db"
	"github.com/vib3/photomesh/internal/httputil"
	"github.com/vib3/photomesh/internal/mesh"
	"github.com/vib3/photomesh/internal/pipeline"
	"github.com/vib3/photomesh/internal/session"
	"github.com/vib3/photomesh/internal/viewer"
)

// NoModelMessage is shown when there is nothing to put in the viewer.
const NoModelMessage = "No model available for viewing. Upload or reconstruct a model in the sidebar."

// ConversionResponse describes a mesh uploaded for viewing.
type ConversionResponse struct {
	db.Conversion
	ViewerURL string `json:"viewer_url"`
}

func sessionModelPath(m session.Models, f mesh.Format) string {
	switch f {
	case mesh.FormatOBJ:
		return m.OBJ
	case mesh.FormatPLY:
		return m.PLY
	case mesh.FormatGLB:
		return m.GLB
	}
	return ""
}

// downloadModel serves a generated model as 3D_Model.<ext>.
func (s *Server) downloadModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	f, err := mesh.ParseFormat(r.PathValue("format"))
	if err != nil || f == mesh.FormatSTL {
		httputil.BadRequest(w, "format must be one of obj, ply, glb")
		return
	}

	path := sessionModelPath(s.sessions.Get(w, r).Models(), f)
	if path == "" {
		httputil.NotFound(w, "no generated model; run a reconstruction first")
		return
	}
	file, err := s.fs.Open(path)
	if err != nil {
		httputil.NotFound(w, "generated model is no longer available")
		return
	}
	defer file.Close()
	httputil.WriteAttachment(w, "3D_Model."+string(f), "application/octet-stream", file)
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.convertMesh(w, r)
	case http.MethodDelete:
		s.clearUploadedMesh(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

// ViewerState reports what the viewer will show after the uploaded mesh
// changes.
type ViewerState struct {
	ViewerURL string `json:"viewer_url"`
	HasModel  bool   `json:"has_model"`
}

// clearUploadedMesh drops the session's uploaded mesh so the viewer goes
// back to the generated model, if any.
func (s *Server) clearUploadedMesh(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Get(w, r)
	sess.SetUploadedSTL("")
	httputil.WriteJSONOK(w, ViewerState{ViewerURL: "/api/viewer/model.stl", HasModel: sess.ViewerSTL() != ""})
}

// convertMesh accepts an OBJ, PLY or STL upload and makes it the session's
// viewer mesh. OBJ and PLY are converted to STL; STL is stored unchanged.
// An empty file field, as sent by a cleared file input, clears the upload.
func (s *Server) convertMesh(w http.ResponseWriter, r *http.Request) {
	if err := s.parseUpload(w, r); err != nil {
		httputil.WriteJSONError(w, uploadStatus(err), err.Error())
		return
	}
	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		if _, sent := r.MultipartForm.Value["file"]; sent {
			s.clearUploadedMesh(w, r)
			return
		}
		httputil.BadRequest(w, "missing 'file' upload")
		return
	}
	if files[0].Filename == "" && files[0].Size == 0 {
		s.clearUploadedMesh(w, r)
		return
	}
	fh := files[0]
	data, err := readPart(fh)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	format, err := checkMeshUpload(fh.Filename, data)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	m, err := mesh.Read(bytes.NewReader(data), format)
	if err != nil {
		kind, msg := pipeline.Classify(err)
		httputil.WriteFailure(w, http.StatusUnprocessableEntity, kind, msg)
		return
	}

	sess := s.sessions.Get(w, r)
	c := &db.Conversion{
		ID:           uuid.NewString(),
		SessionID:    sess.ID,
		SourceName:   filepath.Base(fh.Filename),
		SourceFormat: string(format),
		Vertices:     len(m.Vertices),
		Triangles:    len(m.Triangles),
		CreatedAt:    s.clock.Now(),
	}
	c.TargetPath = filepath.Join(s.uploadsDir, c.ID+".stl")

	err = s.fs.MkdirAll(s.uploadsDir, 0755)
	if err == nil && format == mesh.FormatSTL {
		err = s.fs.WriteFile(c.TargetPath, data, 0644)
	} else if err == nil {
		err = mesh.WriteFile(s.fs, c.TargetPath, m)
	}
	if err != nil {
		kind, msg := pipeline.Classify(err)
		httputil.WriteFailure(w, http.StatusInternalServerError, kind, msg)
		return
	}

	if err := s.db.RecordConversion(c); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	sess.SetUploadedSTL(c.TargetPath)
	httputil.WriteJSONOK(w, ConversionResponse{Conversion: *c, ViewerURL: "/api/viewer/model.stl"})
}

func (s *Server) listConversions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	conversions, err := s.db.ListConversions(s.sessions.Get(w, r).ID)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, conversions)
}

// serveViewerModel streams the STL the viewer should display.
func (s *Server) serveViewerModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	path := s.sessions.Get(w, r).ViewerSTL()
	if path == "" {
		httputil.NotFound(w, NoModelMessage)
		return
	}
	f, err := s.fs.Open(path)
	if err != nil {
		httputil.NotFound(w, NoModelMessage)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "model/stl")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := io.Copy(w, f); err != nil {
		log.Printf("failed to stream viewer model %s: %v", path, err)
	}
}

// showViewerParams turns the viewer controls into the parameters the
// viewer renders with. Each call is one render and advances auto-rotation.
func (s *Server) showViewerParams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	p, err := viewer.ParseParams(r.URL.Query())
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	sess := s.sessions.Get(w, r)
	offset := sess.AdvanceRotation(func(old float64) float64 {
		return viewer.NextOffset(p.AutoRotate, old)
	})
	httputil.WriteJSONOK(w, map[string]interface{}{
		"view":            viewer.Effective(p, offset),
		"rotation_offset": offset,
		"has_model":       sess.ViewerSTL() != "",
	})
}
