// Package pipeline drives a photogrammetry reconstruction: it stages the
// uploaded images, runs the COLMAP subcommands in order and exports the
// resulting mesh in every download format.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vib3/photomesh/internal/colmap"
	"github.com/vib3/photomesh/internal/config"
	"github.com/vib3/photomesh/internal/fsutil"
	"github.com/vib3/photomesh/internal/mesh"
	"github.com/vib3/photomesh/internal/monitoring"
	"github.com/vib3/photomesh/internal/progress"
	"github.com/vib3/photomesh/internal/security"
	"github.com/vib3/photomesh/internal/timeutil"
)

// Reporter receives progress events.
type Reporter interface {
	Publish(progress.Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(progress.Event)

func (f ReporterFunc) Publish(e progress.Event) { f(e) }

// MultiReporter publishes every event to each reporter in turn.
type MultiReporter []Reporter

func (m MultiReporter) Publish(e progress.Event) {
	for _, r := range m {
		if r != nil {
			r.Publish(e)
		}
	}
}

// Options configure a pipeline.
type Options struct {
	UseGPU        bool
	Mesher        string
	PoissonDepth  int
	ModelsDir     string
	WorkspaceRoot string
}

// OptionsFromConfig reads pipeline options from the panel configuration.
func OptionsFromConfig(cfg *config.PanelConfig) Options {
	return Options{
		UseGPU:        cfg.GetUseGPU(),
		Mesher:        cfg.GetMesher(),
		PoissonDepth:  cfg.GetPoissonDepth(),
		ModelsDir:     cfg.GetModelsDir(),
		WorkspaceRoot: cfg.GetWorkspaceRoot(),
	}
}

// Image is one uploaded photograph.
type Image struct {
	Name string
	Data []byte
}

// Request describes one reconstruction.
type Request struct {
	RunID       string
	ProjectName string
	OutputDir   string
	Images      []Image
}

// Models are the exported files of a successful run.
type Models struct {
	OBJ string `json:"obj"`
	PLY string `json:"ply"`
	GLB string `json:"glb"`
	STL string `json:"stl"`
}

// StageTiming records how one stage went.
type StageTiming struct {
	Stage     Stage          `json:"-"`
	Name      string         `json:"name"`
	Label     string         `json:"label"`
	Status    progress.State `json:"status"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Message   string         `json:"message,omitempty"`
}

// Result is the outcome of a run. On failure it holds the stages that ran.
type Result struct {
	RunID  string        `json:"run_id"`
	Layout Layout        `json:"-"`
	Models Models        `json:"models"`
	Stats  mesh.Stats    `json:"stats"`
	Stages []StageTiming `json:"stages"`
}

// Pipeline runs reconstructions. Only one runs at a time.
type Pipeline struct {
	Runner   colmap.Runner
	FS       fsutil.FileSystem
	Clock    timeutil.Clock
	Reporter Reporter
	Options  Options

	guard Guard
}

// New creates a pipeline with the real filesystem and clock.
func New(runner colmap.Runner, reporter Reporter, opts Options) *Pipeline {
	return &Pipeline{
		Runner:   runner,
		FS:       fsutil.OSFileSystem{},
		Clock:    timeutil.RealClock{},
		Reporter: reporter,
		Options:  opts,
	}
}

// Busy reports whether a reconstruction is running.
func (p *Pipeline) Busy() bool {
	return p.guard.Running()
}

func (p *Pipeline) modelsDir() string {
	if p.Options.ModelsDir == "" {
		return "generated_models"
	}
	return p.Options.ModelsDir
}

func (p *Pipeline) poissonDepth() int {
	if p.Options.PoissonDepth <= 0 {
		return 9
	}
	return p.Options.PoissonDepth
}

func (p *Pipeline) publish(e progress.Event) {
	if p.Reporter == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = p.Clock.Now()
	}
	p.Reporter.Publish(e)
}

type step struct {
	stage Stage
	run   func(ctx context.Context) error
}

// Run performs a reconstruction. It returns ErrMissingInput when there is
// nothing to reconstruct and ErrBusy when another run holds the pipeline.
// Stages run strictly in order and the first failure stops the run.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if len(req.Images) == 0 || strings.TrimSpace(req.OutputDir) == "" {
		return nil, ErrMissingInput
	}
	if !p.guard.TryAcquire() {
		return nil, ErrBusy
	}
	defer p.guard.Release()

	logf := monitoring.Prefixed("[pipeline " + req.RunID + "] ")
	res := &Result{RunID: req.RunID}

	modelsDir := p.modelsDir()
	if err := p.FS.RemoveAll(modelsDir); err != nil {
		return res, fmt.Errorf("failed to clear %s: %w", modelsDir, err)
	}
	if err := p.FS.MkdirAll(modelsDir, 0755); err != nil {
		return res, fmt.Errorf("failed to create %s: %w", modelsDir, err)
	}

	workspace, err := p.FS.MkdirTemp(p.Options.WorkspaceRoot, "photomesh-")
	if err != nil {
		return res, fmt.Errorf("failed to create workspace: %w", err)
	}
	defer func() {
		if err := p.FS.RemoveAll(workspace); err != nil {
			logf("failed to remove workspace %s: %v", workspace, err)
		}
	}()

	l := NewLayout(req.OutputDir, workspace, modelsDir, p.Options.Mesher)
	res.Layout = l

	if err := p.stageImages(l, req.Images); err != nil {
		return res, err
	}
	for _, dir := range []string{l.Sparse, l.Dense} {
		if err := p.FS.MkdirAll(dir, 0755); err != nil {
			return res, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	logf("staged %d images in %s, output in %s", len(req.Images), l.Images, l.OutputDir)

	var sparseModel string
	steps := []step{
		{StageFeatures, func(ctx context.Context) error {
			return colmap.FeatureExtractor(l.Database, l.Images, p.Options.UseGPU).Run(ctx, p.Runner)
		}},
		{StageMatching, func(ctx context.Context) error {
			return colmap.ExhaustiveMatcher(l.Database, p.Options.UseGPU).Run(ctx, p.Runner)
		}},
		{StageMapping, func(ctx context.Context) error {
			if err := colmap.Mapper(l.Database, l.Images, l.Sparse).Run(ctx, p.Runner); err != nil {
				return err
			}
			model, err := p.firstSparseModel(l.Sparse)
			sparseModel = model
			return err
		}},
		{StageUndistort, func(ctx context.Context) error {
			return colmap.ImageUndistorter(l.Images, sparseModel, l.Dense).Run(ctx, p.Runner)
		}},
		{StageStereo, func(ctx context.Context) error {
			return colmap.PatchMatchStereo(l.Dense).Run(ctx, p.Runner)
		}},
		{StageFusion, func(ctx context.Context) error {
			return colmap.StereoFusion(l.Dense, l.Fused).Run(ctx, p.Runner)
		}},
		{StageMeshing, func(ctx context.Context) error {
			if p.Options.Mesher == config.MesherDelaunay {
				return colmap.DelaunayMesher(l.Dense, l.Mesh).Run(ctx, p.Runner)
			}
			return colmap.PoissonMesher(l.Fused, l.Mesh, p.poissonDepth()).Run(ctx, p.Runner)
		}},
		{StageExport, func(ctx context.Context) error {
			models, stats, err := p.export(l)
			if err != nil {
				return err
			}
			res.Models = models
			res.Stats = stats
			return nil
		}},
	}

	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		timing, err := p.runStep(ctx, req.RunID, i, len(steps), s)
		res.Stages = append(res.Stages, timing)
		if err != nil {
			logf("%s failed after %s: %v", s.stage, timing.Duration, err)
			return res, fmt.Errorf("%s: %w", s.stage, err)
		}
	}

	logf("reconstruction complete: %d vertices, %d triangles", res.Stats.Vertices, res.Stats.Triangles)
	p.publish(progress.Event{
		RunID:   req.RunID,
		State:   progress.StateDone,
		Message: "3D Reconstruction Completed!",
		Step:    len(steps),
		Steps:   len(steps),
	})
	return res, nil
}

func (p *Pipeline) runStep(ctx context.Context, runID string, i, n int, s step) (StageTiming, error) {
	timing := StageTiming{
		Stage:     s.stage,
		Name:      s.stage.String(),
		Label:     s.stage.Label(),
		StartedAt: p.Clock.Now(),
	}
	p.publish(progress.Event{
		RunID: runID,
		Stage: timing.Name,
		Label: timing.Label,
		State: progress.StateStarted,
		Step:  i + 1,
		Steps: n,
		Time:  timing.StartedAt,
	})

	err := s.run(ctx)
	timing.Duration = p.Clock.Since(timing.StartedAt)
	timing.Status = progress.StateFinished
	if err != nil {
		timing.Status = progress.StateFailed
		_, timing.Message = Classify(err)
	}

	p.publish(progress.Event{
		RunID:      runID,
		Stage:      timing.Name,
		Label:      timing.Label,
		State:      timing.Status,
		Message:    timing.Message,
		Step:       i + 1,
		Steps:      n,
		DurationMS: timing.Duration.Milliseconds(),
		Time:       timing.StartedAt.Add(timing.Duration),
	})
	return timing, err
}

// stageImages writes the uploads into the workspace images folder under
// sanitised, unique names.
func (p *Pipeline) stageImages(l Layout, images []Image) error {
	if err := p.FS.MkdirAll(l.Images, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", l.Images, err)
	}
	used := make(map[string]bool, len(images))
	for i, img := range images {
		name := uniqueName(security.SanitizeFilename(img.Name), i, used)
		if err := p.FS.WriteFile(filepath.Join(l.Images, name), img.Data, 0644); err != nil {
			return fmt.Errorf("failed to write image %s: %w", name, err)
		}
	}
	return nil
}

func uniqueName(name string, i int, used map[string]bool) string {
	if !used[name] {
		used[name] = true
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := i; ; n++ {
		candidate := base + "_" + strconv.Itoa(n) + ext
		if !used[candidate] {
			used[candidate] = true
			return candidate
		}
	}
}

// firstSparseModel returns the first model folder the mapper wrote, in
// name order.
func (p *Pipeline) firstSparseModel(sparseDir string) (string, error) {
	entries, err := p.FS.ReadDir(sparseDir)
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", sparseDir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			return filepath.Join(sparseDir, e.Name()), nil
		}
	}
	return "", ErrNoSparseModel
}

// export writes the mesh as OBJ, PLY and GLB into the models folder, then
// reloads the OBJ and writes the STL used by the viewer.
func (p *Pipeline) export(l Layout) (Models, mesh.Stats, error) {
	m, err := mesh.ReadFile(p.FS, l.Mesh)
	if err != nil {
		return Models{}, mesh.Stats{}, err
	}

	models := Models{
		OBJ: l.ModelPath(mesh.FormatOBJ),
		PLY: l.ModelPath(mesh.FormatPLY),
		GLB: l.ModelPath(mesh.FormatGLB),
		STL: l.ModelPath(mesh.FormatSTL),
	}
	for _, path := range []string{models.OBJ, models.PLY, models.GLB} {
		if err := mesh.WriteFile(p.FS, path, m); err != nil {
			return Models{}, mesh.Stats{}, err
		}
	}

	viewerMesh, err := mesh.Convert(p.FS, models.OBJ, models.STL)
	if err != nil {
		return Models{}, mesh.Stats{}, err
	}
	return models, viewerMesh.Stats(), nil
}
