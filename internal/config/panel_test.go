package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultPanelConfig(t *testing.T) {
	cfg := DefaultPanelConfig()

	if cfg.ColmapPath == nil || *cfg.ColmapPath != "colmap" {
		t.Errorf("Expected ColmapPath 'colmap', got %v", cfg.ColmapPath)
	}
	if cfg.Mesher == nil || *cfg.Mesher != MesherPoisson {
		t.Errorf("Expected Mesher poisson, got %v", cfg.Mesher)
	}
	if cfg.PoissonDepth == nil || *cfg.PoissonDepth != 9 {
		t.Errorf("Expected PoissonDepth 9, got %v", cfg.PoissonDepth)
	}

	if cfg.GetModelsDir() != "generated_models" {
		t.Errorf("GetModelsDir() = %q, want generated_models", cfg.GetModelsDir())
	}
	if cfg.GetMaxUploadBytes() != 512<<20 {
		t.Errorf("GetMaxUploadBytes() = %d, want %d", cfg.GetMaxUploadBytes(), 512<<20)
	}
	if !cfg.GetUseGPU() {
		t.Error("GetUseGPU() = false, want true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	cfg := &PanelConfig{}

	if cfg.GetColmapPath() != "colmap" {
		t.Errorf("GetColmapPath() = %q", cfg.GetColmapPath())
	}
	if cfg.GetMesher() != MesherPoisson {
		t.Errorf("GetMesher() = %q", cfg.GetMesher())
	}
	if cfg.GetPoissonDepth() != 9 {
		t.Errorf("GetPoissonDepth() = %d", cfg.GetPoissonDepth())
	}
	if cfg.GetWorkspaceRoot() != "" {
		t.Errorf("GetWorkspaceRoot() = %q", cfg.GetWorkspaceRoot())
	}
	args, err := cfg.ExtraArgs()
	if err != nil || args != nil {
		t.Errorf("ExtraArgs() = %v, %v; want nil, nil", args, err)
	}
}

func TestLoadPanelConfigJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "panel.json")

	testJSON := `{
  "colmap_path": "/opt/colmap/bin/colmap",
  "colmap_extra_args": "--log_level 1 --log_to_stderr 'true'",
  "use_gpu": false,
  "mesher": "delaunay",
  "models_dir": "/srv/models"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadPanelConfig(configPath)
	if err != nil {
		t.Fatalf("LoadPanelConfig failed: %v", err)
	}

	if cfg.GetColmapPath() != "/opt/colmap/bin/colmap" {
		t.Errorf("GetColmapPath() = %q", cfg.GetColmapPath())
	}
	if cfg.GetUseGPU() {
		t.Error("GetUseGPU() = true, want false")
	}
	if cfg.GetMesher() != MesherDelaunay {
		t.Errorf("GetMesher() = %q, want delaunay", cfg.GetMesher())
	}
	if cfg.GetModelsDir() != "/srv/models" {
		t.Errorf("GetModelsDir() = %q", cfg.GetModelsDir())
	}
	// Omitted fields fall back to defaults.
	if cfg.GetPoissonDepth() != 9 {
		t.Errorf("GetPoissonDepth() = %d, want 9", cfg.GetPoissonDepth())
	}

	args, err := cfg.ExtraArgs()
	if err != nil {
		t.Fatalf("ExtraArgs() error: %v", err)
	}
	want := []string{"--log_level", "1", "--log_to_stderr", "true"}
	if strings.Join(args, "|") != strings.Join(want, "|") {
		t.Errorf("ExtraArgs() = %q, want %q", args, want)
	}
}

func TestLoadPanelConfigYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "panel.yaml")

	testYAML := `colmap_path: colmap-cuda
poisson_depth: 11
allowed_output_roots:
  - /data/scans
  - /tmp
max_upload_mb: 64
`
	if err := os.WriteFile(configPath, []byte(testYAML), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadPanelConfig(configPath)
	if err != nil {
		t.Fatalf("LoadPanelConfig failed: %v", err)
	}
	if cfg.GetColmapPath() != "colmap-cuda" {
		t.Errorf("GetColmapPath() = %q", cfg.GetColmapPath())
	}
	if cfg.GetPoissonDepth() != 11 {
		t.Errorf("GetPoissonDepth() = %d, want 11", cfg.GetPoissonDepth())
	}
	if len(cfg.AllowedOutputRoots) != 2 || cfg.AllowedOutputRoots[0] != "/data/scans" {
		t.Errorf("AllowedOutputRoots = %v", cfg.AllowedOutputRoots)
	}
	if cfg.GetMaxUploadBytes() != 64<<20 {
		t.Errorf("GetMaxUploadBytes() = %d", cfg.GetMaxUploadBytes())
	}
}

func TestLoadPanelConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()

	write := func(name, body string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"wrong extension", write("panel.toml", "x=1"), "extension"},
		{"missing file", filepath.Join(tmpDir, "absent.json"), "stat"},
		{"bad json", write("bad.json", "{"), "parse"},
		{"bad mesher", write("mesher.json", `{"mesher":"marching"}`), "mesher"},
		{"bad depth", write("depth.json", `{"poisson_depth":0}`), "poisson_depth"},
		{"bad upload", write("upload.yml", "max_upload_mb: -1\n"), "max_upload_mb"},
		{"empty colmap", write("colmap.json", `{"colmap_path":"  "}`), "colmap_path"},
		{"unbalanced quotes", write("quote.json", `{"colmap_extra_args":"--a 'b"}`), "colmap_extra_args"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPanelConfig(tt.path)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadPanelConfigTooLarge(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "huge.json")

	data := make([]byte, 1024*1024+1)
	for i := range data {
		data[i] = ' '
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPanelConfig(configPath); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected too large error, got %v", err)
	}
}

func TestDefaultsFileLoads(t *testing.T) {
	cfg, err := LoadPanelConfig(filepath.Join("..", "..", DefaultConfigPath))
	if err != nil {
		t.Fatalf("defaults file should load: %v", err)
	}
	if cfg.GetColmapPath() != "colmap" {
		t.Errorf("GetColmapPath() = %q", cfg.GetColmapPath())
	}
}
