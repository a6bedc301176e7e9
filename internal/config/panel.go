package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-shellwords"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where the example panel configuration lives in the
// repository.
const DefaultConfigPath = "config/photomesh.defaults.json"

// Mesher names accepted by the mesher field.
const (
	MesherPoisson  = "poisson"
	MesherDelaunay = "delaunay"
)

// PanelConfig holds the server-side settings of the control panel. Every
// field is optional; the Get* methods supply defaults for anything omitted,
// so partial files are safe.
type PanelConfig struct {
	// COLMAP invocation
	ColmapPath      *string `json:"colmap_path,omitempty" yaml:"colmap_path,omitempty"`
	ColmapExtraArgs *string `json:"colmap_extra_args,omitempty" yaml:"colmap_extra_args,omitempty"`
	UseGPU          *bool   `json:"use_gpu,omitempty" yaml:"use_gpu,omitempty"`

	// Meshing
	Mesher       *string `json:"mesher,omitempty" yaml:"mesher,omitempty"`
	PoissonDepth *int    `json:"poisson_depth,omitempty" yaml:"poisson_depth,omitempty"`

	// Filesystem layout
	ModelsDir          *string  `json:"models_dir,omitempty" yaml:"models_dir,omitempty"`
	WorkspaceRoot      *string  `json:"workspace_root,omitempty" yaml:"workspace_root,omitempty"`
	AllowedOutputRoots []string `json:"allowed_output_roots,omitempty" yaml:"allowed_output_roots,omitempty"`

	// Uploads
	MaxUploadMB *int `json:"max_upload_mb,omitempty" yaml:"max_upload_mb,omitempty"`
}

func ptrString(v string) *string { return &v }
func ptrBool(v bool) *bool       { return &v }
func ptrInt(v int) *int          { return &v }

// DefaultPanelConfig returns a config with every field set to its default.
func DefaultPanelConfig() *PanelConfig {
	return &PanelConfig{
		ColmapPath:      ptrString("colmap"),
		ColmapExtraArgs: ptrString(""),
		UseGPU:          ptrBool(true),
		Mesher:          ptrString(MesherPoisson),
		PoissonDepth:    ptrInt(9),
		ModelsDir:       ptrString("generated_models"),
		WorkspaceRoot:   ptrString(""),
		MaxUploadMB:     ptrInt(512),
	}
}

// LoadPanelConfig loads a PanelConfig from a JSON or YAML file. The file
// must have a .json, .yaml or .yml extension and be at most 1MB.
func LoadPanelConfig(path string) (*PanelConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &PanelConfig{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *PanelConfig) Validate() error {
	if c.ColmapPath != nil && strings.TrimSpace(*c.ColmapPath) == "" {
		return fmt.Errorf("colmap_path must not be empty")
	}
	if c.Mesher != nil && *c.Mesher != MesherPoisson && *c.Mesher != MesherDelaunay {
		return fmt.Errorf("mesher must be %q or %q, got %q", MesherPoisson, MesherDelaunay, *c.Mesher)
	}
	if c.PoissonDepth != nil && (*c.PoissonDepth < 1 || *c.PoissonDepth > 16) {
		return fmt.Errorf("poisson_depth must be between 1 and 16, got %d", *c.PoissonDepth)
	}
	if c.MaxUploadMB != nil && *c.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be positive, got %d", *c.MaxUploadMB)
	}
	if c.ModelsDir != nil && strings.TrimSpace(*c.ModelsDir) == "" {
		return fmt.Errorf("models_dir must not be empty")
	}
	if _, err := c.ExtraArgs(); err != nil {
		return err
	}
	return nil
}

// GetColmapPath returns the reconstruction executable path or the default.
func (c *PanelConfig) GetColmapPath() string {
	if c.ColmapPath == nil || *c.ColmapPath == "" {
		return "colmap"
	}
	return *c.ColmapPath
}

// ExtraArgs splits colmap_extra_args with shell quoting rules.
func (c *PanelConfig) ExtraArgs() ([]string, error) {
	if c.ColmapExtraArgs == nil || strings.TrimSpace(*c.ColmapExtraArgs) == "" {
		return nil, nil
	}
	args, err := shellwords.Parse(*c.ColmapExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("invalid colmap_extra_args %q: %w", *c.ColmapExtraArgs, err)
	}
	return args, nil
}

// GetUseGPU returns the use_gpu value or the default.
func (c *PanelConfig) GetUseGPU() bool {
	if c.UseGPU == nil {
		return true
	}
	return *c.UseGPU
}

// GetMesher returns the mesher name or the default.
func (c *PanelConfig) GetMesher() string {
	if c.Mesher == nil || *c.Mesher == "" {
		return MesherPoisson
	}
	return *c.Mesher
}

// GetPoissonDepth returns the poisson_depth value or the default.
func (c *PanelConfig) GetPoissonDepth() int {
	if c.PoissonDepth == nil {
		return 9
	}
	return *c.PoissonDepth
}

// GetModelsDir returns the persistent models folder or the default.
func (c *PanelConfig) GetModelsDir() string {
	if c.ModelsDir == nil || *c.ModelsDir == "" {
		return "generated_models"
	}
	return *c.ModelsDir
}

// GetWorkspaceRoot returns the parent directory for temporary workspaces.
// An empty string means the system temp directory.
func (c *PanelConfig) GetWorkspaceRoot() string {
	if c.WorkspaceRoot == nil {
		return ""
	}
	return *c.WorkspaceRoot
}

// GetMaxUploadBytes returns the upload limit in bytes.
func (c *PanelConfig) GetMaxUploadBytes() int64 {
	mb := 512
	if c.MaxUploadMB != nil {
		mb = *c.MaxUploadMB
	}
	return int64(mb) << 20
}
