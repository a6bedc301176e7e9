package colmap

import (
	"context"
	"strconv"
	"strings"
)

// Subcommand names.
const (
	SubFeatureExtractor  = "feature_extractor"
	SubExhaustiveMatcher = "exhaustive_matcher"
	SubMapper            = "mapper"
	SubImageUndistorter  = "image_undistorter"
	SubPatchMatchStereo  = "patch_match_stereo"
	SubStereoFusion      = "stereo_fusion"
	SubPoissonMesher     = "poisson_mesher"
	SubDelaunayMesher    = "delaunay_mesher"
)

// Invocation is one subcommand with its arguments.
type Invocation struct {
	Subcommand string
	Args       []string
}

func (i Invocation) String() string {
	if len(i.Args) == 0 {
		return i.Subcommand
	}
	return i.Subcommand + " " + strings.Join(i.Args, " ")
}

// Run executes the invocation with r.
func (i Invocation) Run(ctx context.Context, r Runner) error {
	return r.Run(ctx, i.Subcommand, i.Args...)
}

// FeatureExtractor detects SIFT features in every image under imagePath.
// GPU extraction is COLMAP's default; useGPU=false disables it explicitly.
func FeatureExtractor(databasePath, imagePath string, useGPU bool) Invocation {
	args := []string{"--database_path", databasePath, "--image_path", imagePath}
	if !useGPU {
		args = append(args, "--SiftExtraction.use_gpu", "0")
	}
	return Invocation{Subcommand: SubFeatureExtractor, Args: args}
}

// ExhaustiveMatcher matches features between every image pair.
func ExhaustiveMatcher(databasePath string, useGPU bool) Invocation {
	args := []string{"--database_path", databasePath}
	if !useGPU {
		args = append(args, "--SiftMatching.use_gpu", "0")
	}
	return Invocation{Subcommand: SubExhaustiveMatcher, Args: args}
}

// Mapper runs incremental sparse reconstruction into outputPath.
func Mapper(databasePath, imagePath, outputPath string) Invocation {
	return Invocation{Subcommand: SubMapper, Args: []string{
		"--database_path", databasePath,
		"--image_path", imagePath,
		"--output_path", outputPath,
	}}
}

// ImageUndistorter prepares a dense workspace from a sparse model.
func ImageUndistorter(imagePath, sparseModelPath, outputPath string) Invocation {
	return Invocation{Subcommand: SubImageUndistorter, Args: []string{
		"--image_path", imagePath,
		"--input_path", sparseModelPath,
		"--output_path", outputPath,
		"--output_type", "COLMAP",
	}}
}

// PatchMatchStereo computes depth maps with geometric consistency.
func PatchMatchStereo(workspacePath string) Invocation {
	return Invocation{Subcommand: SubPatchMatchStereo, Args: []string{
		"--workspace_path", workspacePath,
		"--workspace_format", "COLMAP",
		"--PatchMatchStereo.geom_consistency", "true",
	}}
}

// StereoFusion fuses the geometric depth maps into a point cloud.
func StereoFusion(workspacePath, outputPath string) Invocation {
	return Invocation{Subcommand: SubStereoFusion, Args: []string{
		"--workspace_path", workspacePath,
		"--workspace_format", "COLMAP",
		"--input_type", "geometric",
		"--output_path", outputPath,
	}}
}

// PoissonMesher reconstructs a watertight surface from a fused point cloud.
func PoissonMesher(inputPath, outputPath string, depth int) Invocation {
	return Invocation{Subcommand: SubPoissonMesher, Args: []string{
		"--input_path", inputPath,
		"--output_path", outputPath,
		"--PoissonMeshing.depth", strconv.Itoa(depth),
	}}
}

// DelaunayMesher meshes a dense workspace directory.
func DelaunayMesher(workspacePath, outputPath string) Invocation {
	return Invocation{Subcommand: SubDelaunayMesher, Args: []string{
		"--input_path", workspacePath,
		"--output_path", outputPath,
	}}
}
