package api

import (
	"bytes"
	"embed"
	"html/template"
	"io"
	"net/http"

	"github.com/vib3/photomesh/internal/httputil"
	"github.com/vib3/photomesh/internal/viewer"
)

//go:embed templates/*
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html.tmpl"))

const defaultProjectName = "My 3D Project"

type indexData struct {
	ProjectName    string
	Viewer         viewer.Params
	Materials      []string
	Axes           []string
	HasModel       bool
	HasGenerated   bool
	LastRunID      string
	NoModelMessage string
	ImageAccept    string
	MeshAccept     string
}

func (s *Server) showIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	sess := s.sessions.Get(w, r)
	data := indexData{
		ProjectName:    defaultProjectName,
		Viewer:         viewer.DefaultParams(),
		Materials:      viewer.Materials,
		Axes:           []string{viewer.AxisHorizontal, viewer.AxisLeft},
		HasModel:       sess.ViewerSTL() != "",
		HasGenerated:   sess.Models().OBJ != "",
		LastRunID:      sess.LastRunID(),
		NoModelMessage: NoModelMessage,
		ImageAccept:    ".jpg,.jpeg,.png",
		MeshAccept:     ".obj,.ply,.stl",
	}
	if name := r.URL.Query().Get("project"); name != "" {
		data.ProjectName = name
	}

	buf := bytes.NewBuffer(nil)
	if err := indexTemplate.Execute(buf, data); err != nil {
		http.Error(w, "Failed to render template", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.Copy(w, buf)
}

func (s *Server) serveViewerJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "no-cache")

	f, err := templateFS.Open("templates/viewer.js")
	if err != nil {
		http.Error(w, "Failed to open viewer.js", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	io.Copy(w, f)
}
