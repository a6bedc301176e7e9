package pipeline

import (
	"path/filepath"

	"github.com/vib3/photomesh/internal/config"
	"github.com/vib3/photomesh/internal/mesh"
)

// Layout names every path a reconstruction touches.
type Layout struct {
	// Temporary workspace holding the uploaded images.
	Workspace string
	Images    string

	// Reconstruction workspace under the user's output directory.
	OutputDir string
	Database  string
	Sparse    string
	Dense     string
	Fused     string
	Mesh      string

	// Persistent folder the exported models are written to.
	ModelsDir string
}

// NewLayout computes the paths for a run.
func NewLayout(outputDir, workspace, modelsDir, mesher string) Layout {
	dense := filepath.Join(outputDir, "dense")
	meshName := "meshed-poisson.ply"
	if mesher == config.MesherDelaunay {
		meshName = "meshed-delaunay.ply"
	}
	return Layout{
		Workspace: workspace,
		Images:    filepath.Join(workspace, "images"),
		OutputDir: outputDir,
		Database:  filepath.Join(outputDir, "database.db"),
		Sparse:    filepath.Join(outputDir, "sparse"),
		Dense:     dense,
		Fused:     filepath.Join(dense, "fused.ply"),
		Mesh:      filepath.Join(dense, meshName),
		ModelsDir: modelsDir,
	}
}

// ModelPath returns where the exported model of the given format lives.
func (l Layout) ModelPath(f mesh.Format) string {
	return ModelPath(l.ModelsDir, f)
}

// ModelPath returns modelsDir/mesh.<format>.
func ModelPath(modelsDir string, f mesh.Format) string {
	return filepath.Join(modelsDir, "mesh."+string(f))
}
