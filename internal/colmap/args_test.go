package colmap

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvocationArgs(t *testing.T) {
	tests := []struct {
		name string
		inv  Invocation
		want []string
	}{
		{
			name: "feature extractor gpu",
			inv:  FeatureExtractor("/out/database.db", "/ws/images", true),
			want: []string{"feature_extractor", "--database_path", "/out/database.db", "--image_path", "/ws/images"},
		},
		{
			name: "feature extractor cpu",
			inv:  FeatureExtractor("/out/database.db", "/ws/images", false),
			want: []string{"feature_extractor", "--database_path", "/out/database.db", "--image_path", "/ws/images", "--SiftExtraction.use_gpu", "0"},
		},
		{
			name: "exhaustive matcher",
			inv:  ExhaustiveMatcher("/out/database.db", true),
			want: []string{"exhaustive_matcher", "--database_path", "/out/database.db"},
		},
		{
			name: "exhaustive matcher cpu",
			inv:  ExhaustiveMatcher("/out/database.db", false),
			want: []string{"exhaustive_matcher", "--database_path", "/out/database.db", "--SiftMatching.use_gpu", "0"},
		},
		{
			name: "mapper",
			inv:  Mapper("/out/database.db", "/ws/images", "/out/sparse"),
			want: []string{"mapper", "--database_path", "/out/database.db", "--image_path", "/ws/images", "--output_path", "/out/sparse"},
		},
		{
			name: "image undistorter",
			inv:  ImageUndistorter("/ws/images", "/out/sparse/0", "/out/dense"),
			want: []string{"image_undistorter", "--image_path", "/ws/images", "--input_path", "/out/sparse/0", "--output_path", "/out/dense", "--output_type", "COLMAP"},
		},
		{
			name: "patch match stereo",
			inv:  PatchMatchStereo("/out/dense"),
			want: []string{"patch_match_stereo", "--workspace_path", "/out/dense", "--workspace_format", "COLMAP", "--PatchMatchStereo.geom_consistency", "true"},
		},
		{
			name: "stereo fusion",
			inv:  StereoFusion("/out/dense", "/out/dense/fused.ply"),
			want: []string{"stereo_fusion", "--workspace_path", "/out/dense", "--workspace_format", "COLMAP", "--input_type", "geometric", "--output_path", "/out/dense/fused.ply"},
		},
		{
			name: "poisson mesher",
			inv:  PoissonMesher("/out/dense/fused.ply", "/out/dense/meshed-poisson.ply", 9),
			want: []string{"poisson_mesher", "--input_path", "/out/dense/fused.ply", "--output_path", "/out/dense/meshed-poisson.ply", "--PoissonMeshing.depth", "9"},
		},
		{
			name: "delaunay mesher",
			inv:  DelaunayMesher("/out/dense", "/out/dense/meshed-delaunay.ply"),
			want: []string{"delaunay_mesher", "--input_path", "/out/dense", "--output_path", "/out/dense/meshed-delaunay.ply"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := append([]string{tt.inv.Subcommand}, tt.inv.Args...)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("args mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestInvocationString(t *testing.T) {
	assert.Equal(t, "mapper", Invocation{Subcommand: "mapper"}.String())
	assert.Equal(t, "exhaustive_matcher --database_path db", ExhaustiveMatcher("db", true).String())
}

func TestRecordingRunner(t *testing.T) {
	var produced []string
	r := &RecordingRunner{
		FailOn: SubStereoFusion,
		OnRun: func(inv Invocation) error {
			produced = append(produced, inv.Subcommand)
			return nil
		},
	}
	ctx := context.Background()

	require.NoError(t, Mapper("db", "img", "sparse").Run(ctx, r))
	require.NoError(t, PatchMatchStereo("dense").Run(ctx, r))

	err := StereoFusion("dense", "fused.ply").Run(ctx, r)
	require.Error(t, err)
	assert.True(t, IsToolError(err))

	assert.Equal(t, []string{"mapper", "patch_match_stereo", "stereo_fusion"}, r.Subcommands())
	assert.Equal(t, []string{"mapper", "patch_match_stereo"}, produced)
	assert.Equal(t, PatchMatchStereo("dense"), r.Calls()[1])
}

func TestRecordingRunnerCustomError(t *testing.T) {
	boom := errors.New("boom")
	r := &RecordingRunner{FailOn: SubMapper, FailErr: boom}
	err := r.Run(context.Background(), SubMapper)
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsToolError(err))
}

func TestRecordingRunnerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &RecordingRunner{}
	assert.ErrorIs(t, r.Run(ctx, SubMapper), context.Canceled)
	assert.Empty(t, r.Calls())
}
