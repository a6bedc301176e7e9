// Package api serves the photomesh control panel and its JSON API.
package api

import (
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/vib3/photomesh/internal/config"
	"github.com/vib3/photomesh/internal/db"
	"github.com/vib3/photomesh/internal/fsutil"
	"github.com/vib3/photomesh/internal/httputil"
	"github.com/vib3/photomesh/internal/mesh"
	"github.com/vib3/photomesh/internal/pipeline"
	"github.com/vib3/photomesh/internal/progress"
	"github.com/vib3/photomesh/internal/session"
	"github.com/vib3/photomesh/internal/timeutil"
	"github.com/vib3/photomesh/internal/version"
	"github.com/vib3/photomesh/internal/viewer"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

type Server struct {
	cfg        *config.PanelConfig
	pipeline   *pipeline.Pipeline
	broker     *progress.Broker
	db         *db.DB
	sessions   *session.Store
	fs         fsutil.FileSystem
	clock      timeutil.Clock
	uploadsDir string
	runsDir    string
}

// NewServer creates the panel server. Files are read and written through
// the pipeline's filesystem so that tests can run against memory.
func NewServer(cfg *config.PanelConfig, p *pipeline.Pipeline, broker *progress.Broker, database *db.DB) *Server {
	root := cfg.GetWorkspaceRoot()
	if root == "" {
		root = os.TempDir()
	}
	fs := p.FS
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	clock := p.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{
		cfg:        cfg,
		pipeline:   p,
		broker:     broker,
		db:         database,
		sessions:   session.NewStore(clock),
		fs:         fs,
		clock:      clock,
		uploadsDir: filepath.Join(root, "photomesh-uploads"),
		runsDir:    filepath.Join(root, "photomesh-runs"),
	}
}

// Sessions exposes the session store, mainly so the caller can prune it.
func (s *Server) Sessions() *session.Store {
	return s.sessions
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", s.showIndex)
	mux.HandleFunc("/static/viewer.js", s.serveViewerJS)
	mux.HandleFunc("/api/reconstructions", s.handleReconstructions)
	mux.HandleFunc("/api/reconstructions/{id}", s.showReconstruction)
	mux.HandleFunc("/api/reconstructions/{id}/chart", s.showStageChart)
	mux.HandleFunc("/api/reconstructions/{id}/preview.png", s.showPreview)
	mux.HandleFunc("/api/events", s.streamEvents)
	mux.HandleFunc("/api/models/{format}", s.downloadModel)
	mux.HandleFunc("/api/convert", s.handleConvert)
	mux.HandleFunc("/api/conversions", s.listConversions)
	mux.HandleFunc("/api/viewer/model.stl", s.serveViewerModel)
	mux.HandleFunc("/api/viewer/params", s.showViewerParams)
	mux.HandleFunc("/api/config", s.showConfig)
	s.db.AttachAdminRoutes(mux)
	return mux
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"version":        version.Info(),
		"mesher":         s.cfg.GetMesher(),
		"poisson_depth":  s.cfg.GetPoissonDepth(),
		"use_gpu":        s.cfg.GetUseGPU(),
		"max_upload_mb":  s.cfg.GetMaxUploadBytes() >> 20,
		"image_types":    imageExtensions,
		"mesh_types":     convertibleFormats,
		"model_formats":  mesh.Formats,
		"viewer":         viewer.DefaultParams(),
		"restricted_out": len(s.cfg.AllowedOutputRoots) > 0,
		"busy":           s.pipeline.Busy(),
	})
}
