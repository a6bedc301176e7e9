package pipeline

// Stage is one step of a reconstruction.
type Stage int

const (
	StageFeatures Stage = iota
	StageMatching
	StageMapping
	StageUndistort
	StageStereo
	StageFusion
	StageMeshing
	StageExport
)

// Stages lists every stage in execution order.
var Stages = []Stage{
	StageFeatures,
	StageMatching,
	StageMapping,
	StageUndistort,
	StageStereo,
	StageFusion,
	StageMeshing,
	StageExport,
}

var stageNames = map[Stage]string{
	StageFeatures:  "feature_extraction",
	StageMatching:  "matching",
	StageMapping:   "sparse_reconstruction",
	StageUndistort: "undistortion",
	StageStereo:    "depth_maps",
	StageFusion:    "fusion",
	StageMeshing:   "meshing",
	StageExport:    "export",
}

var stageLabels = map[Stage]string{
	StageFeatures:  "Extracting Features with COLMAP...",
	StageMatching:  "Matching Features with COLMAP...",
	StageMapping:   "Running Sparse Reconstruction...",
	StageUndistort: "Undistorting Images...",
	StageStereo:    "Computing Depth Maps...",
	StageFusion:    "Fusing Depth Maps into Dense Point Cloud...",
	StageMeshing:   "Performing 3D Mesh Reconstruction...",
	StageExport:    "Exporting Models...",
}

// String returns the stable machine name stored with stage timings.
func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return "unknown"
}

// Label returns the status text shown while the stage runs.
func (s Stage) Label() string {
	return stageLabels[s]
}
