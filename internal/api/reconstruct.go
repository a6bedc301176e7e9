package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/google/uuid"

	"github.com/vib3/photomesh/internal/db"
	"github.com/vib3/photomesh/internal/httputil"
	"github.com/vib3/photomesh/internal/mesh"
	"github.com/vib3/photomesh/internal/pipeline"
	"github.com/vib3/photomesh/internal/preview"
	"github.com/vib3/photomesh/internal/progress"
	"github.com/vib3/photomesh/internal/security"
	"github.com/vib3/photomesh/internal/session"
)

// ReconstructionResponse is returned by a successful reconstruction.
type ReconstructionResponse struct {
	RunID       string                 `json:"run_id"`
	ProjectName string                 `json:"project_name"`
	Message     string                 `json:"message"`
	Downloads   map[string]string      `json:"downloads"`
	ViewerURL   string                 `json:"viewer_url"`
	Stats       mesh.Stats             `json:"stats"`
	Stages      []pipeline.StageTiming `json:"stages"`
}

func (s *Server) handleReconstructions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listReconstructions(w, r)
	case http.MethodPost:
		s.startReconstruction(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) listReconstructions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = n
	}
	runs, err := s.db.ListRuns(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to list runs: %v", err))
		return
	}
	httputil.WriteJSONOK(w, runs)
}

// startReconstruction runs the full pipeline for the uploaded images and
// blocks until it finishes. Progress is published on /api/events.
func (s *Server) startReconstruction(w http.ResponseWriter, r *http.Request) {
	if err := s.parseUpload(w, r); err != nil {
		httputil.WriteJSONError(w, uploadStatus(err), err.Error())
		return
	}

	projectName := strings.TrimSpace(r.FormValue("project_name"))
	if projectName == "" {
		projectName = defaultProjectName
	}
	outputDir := strings.TrimSpace(r.FormValue("output_dir"))
	files := r.MultipartForm.File["images"]
	if len(files) == 0 || outputDir == "" {
		httputil.WriteFailure(w, http.StatusBadRequest, pipeline.KindInput, pipeline.MissingInputMessage)
		return
	}

	outputDir, err := security.ValidateOutputDir(outputDir, s.cfg.AllowedOutputRoots)
	if err != nil {
		httputil.WriteFailure(w, http.StatusBadRequest, pipeline.KindInput, fmt.Sprintf("Invalid output directory: %v", err))
		return
	}
	images, err := readImages(files)
	if err != nil {
		httputil.WriteFailure(w, http.StatusBadRequest, pipeline.KindInput, err.Error())
		return
	}

	if s.pipeline.Busy() {
		kind, msg := pipeline.Classify(pipeline.ErrBusy)
		httputil.WriteFailure(w, http.StatusConflict, kind, msg)
		return
	}

	sess := s.sessions.Get(w, r)
	run := &db.Run{
		ID:          uuid.NewString(),
		SessionID:   sess.ID,
		ProjectName: projectName,
		OutputDir:   outputDir,
		ImageCount:  len(images),
		Mesher:      s.cfg.GetMesher(),
		StartedAt:   s.clock.Now(),
	}
	if err := s.db.CreateRun(run); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to create run: %v", err))
		return
	}
	log.Printf("run %s: %q with %d images into %s", run.ID, projectName, len(images), outputDir)

	res, runErr := s.pipeline.Run(context.WithoutCancel(r.Context()), pipeline.Request{
		RunID:       run.ID,
		ProjectName: projectName,
		OutputDir:   outputDir,
		Images:      images,
	})
	s.finishRun(run.ID, res, runErr)

	if runErr != nil {
		kind, msg := pipeline.Classify(runErr)
		s.broker.Publish(progress.Event{RunID: run.ID, State: progress.StateFailed, Message: msg, Time: s.clock.Now()})
		status := http.StatusInternalServerError
		if errors.Is(runErr, pipeline.ErrBusy) {
			status = http.StatusConflict
		}
		httputil.WriteFailure(w, status, kind, msg)
		return
	}

	models, err := s.keepModels(run.ID, res.Models)
	if err != nil {
		kind, msg := pipeline.Classify(err)
		httputil.WriteFailure(w, http.StatusInternalServerError, kind, msg)
		return
	}
	sess.SetModels(models, run.ID)

	httputil.WriteJSONOK(w, ReconstructionResponse{
		RunID:       run.ID,
		ProjectName: projectName,
		Message:     "3D Reconstruction Completed!",
		Downloads: map[string]string{
			"obj": "/api/models/obj",
			"ply": "/api/models/ply",
			"glb": "/api/models/glb",
		},
		ViewerURL: "/api/viewer/model.stl",
		Stats:     res.Stats,
		Stages:    res.Stages,
	})
}

// keepModels copies a run's exports out of the shared models folder, which
// the next run clears, into a directory owned by the run.
func (s *Server) keepModels(runID string, m pipeline.Models) (session.Models, error) {
	dir := filepath.Join(s.runsDir, runID)
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return session.Models{}, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	copyModel := func(src string) (string, error) {
		if src == "" {
			return "", nil
		}
		in, err := s.fs.Open(src)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", src, err)
		}
		defer in.Close()
		dst := filepath.Join(dir, filepath.Base(src))
		out, err := s.fs.Create(dst)
		if err != nil {
			return "", fmt.Errorf("failed to write %s: %w", dst, err)
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return "", fmt.Errorf("failed to write %s: %w", dst, err)
		}
		if err := out.Close(); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", dst, err)
		}
		return dst, nil
	}

	var kept session.Models
	var err error
	for _, c := range []struct {
		src string
		dst *string
	}{
		{m.OBJ, &kept.OBJ},
		{m.PLY, &kept.PLY},
		{m.GLB, &kept.GLB},
		{m.STL, &kept.STL},
	} {
		if *c.dst, err = copyModel(c.src); err != nil {
			return session.Models{}, err
		}
	}
	return kept, nil
}

func (s *Server) finishRun(id string, res *pipeline.Result, runErr error) {
	o := db.RunOutcome{
		Status:     db.RunStatusSucceeded,
		FinishedAt: s.clock.Now(),
	}
	if res != nil {
		o.ModelsDir = res.Layout.ModelsDir
		if res.Layout.Fused != "" && s.fs.Exists(res.Layout.Fused) {
			o.FusedPath = res.Layout.Fused
		}
		o.Vertices = res.Stats.Vertices
		o.Triangles = res.Stats.Triangles
		o.SurfaceArea = res.Stats.SurfaceArea
	}
	if runErr != nil {
		o.Status = db.RunStatusFailed
		o.ErrorKind, o.ErrorMessage = pipeline.Classify(runErr)
	}
	if err := s.db.FinishRun(id, o); err != nil {
		log.Printf("failed to finish run %s: %v", id, err)
	}
}

// lookupRun loads the run named in the path, writing a 404 when missing.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*db.Run, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return nil, false
	}
	run, err := s.db.GetRun(r.PathValue("id"))
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, "run not found")
		return nil, false
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return nil, false
	}
	return run, true
}

func (s *Server) showReconstruction(w http.ResponseWriter, r *http.Request) {
	if run, ok := s.lookupRun(w, r); ok {
		httputil.WriteJSONOK(w, run)
	}
}

// showStageChart renders a bar chart of how long each stage of a run took.
func (s *Server) showStageChart(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	if len(run.Stages) == 0 {
		httputil.NotFound(w, "run has no recorded stages")
		return
	}

	x := make([]string, 0, len(run.Stages))
	y := make([]opts.BarData, 0, len(run.Stages))
	for _, st := range run.Stages {
		x = append(x, st.Name)
		item := opts.BarData{Value: float64(st.DurationMS) / 1000}
		if st.Status == string(progress.StateFailed) {
			item.ItemStyle = &opts.ItemStyle{Color: "#d9534f"}
		}
		y = append(y, item)
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: run.ProjectName, Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: run.ProjectName, Subtitle: fmt.Sprintf("run=%s status=%s", run.ID, run.Status)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "seconds"}),
	)
	bar.SetXAxis(x).
		AddSeries("duration", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// showPreview renders the fused point cloud of a run seen from above.
func (s *Server) showPreview(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	if run.FusedPath == "" {
		httputil.NotFound(w, "run has no fused point cloud")
		return
	}

	f, err := s.fs.Open(run.FusedPath)
	if err != nil {
		httputil.NotFound(w, "fused point cloud is no longer available")
		return
	}
	defer f.Close()
	points, err := mesh.ReadPointCloud(f)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to read point cloud: %v", err))
		return
	}

	o := preview.DefaultOptions()
	o.Title = run.ProjectName
	var buf bytes.Buffer
	if err := preview.TopDownPNG(&buf, points, o); err != nil {
		if errors.Is(err, preview.ErrNoPoints) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to render preview: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
