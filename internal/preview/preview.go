// Package preview renders a top-down image of a fused point cloud.
package preview

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// ErrNoPoints is returned when there is nothing to plot.
var ErrNoPoints = errors.New("point cloud is empty")

// Options controls the rendered image.
type Options struct {
	Title     string
	Width     vg.Length
	Height    vg.Length
	MaxPoints int
}

// DefaultOptions returns a 6x6 inch plot limited to 20000 points.
func DefaultOptions() Options {
	return Options{
		Title:     "Fused point cloud (top view)",
		Width:     6 * vg.Inch,
		Height:    6 * vg.Inch,
		MaxPoints: 20000,
	}
}

// Downsample keeps every n-th point so that at most max points remain.
// A non-positive max keeps everything.
func Downsample(points [][3]float32, max int) [][3]float32 {
	if max <= 0 || len(points) <= max {
		return points
	}
	stride := (len(points) + max - 1) / max
	out := make([][3]float32, 0, max)
	for i := 0; i < len(points); i += stride {
		out = append(out, points[i])
	}
	return out
}

// TopDownPNG writes a PNG scatter plot of the X/Z plane of points. COLMAP
// models are Y-down, so looking along Y gives a plan view.
func TopDownPNG(w io.Writer, points [][3]float32, opts Options) error {
	if len(points) == 0 {
		return ErrNoPoints
	}
	def := DefaultOptions()
	if opts.Width <= 0 {
		opts.Width = def.Width
	}
	if opts.Height <= 0 {
		opts.Height = def.Height
	}
	sampled := Downsample(points, opts.MaxPoints)

	xys := make(plotter.XYs, len(sampled))
	for i, p := range sampled {
		xys[i] = plotter.XY{X: float64(p[0]), Y: float64(p[2])}
	}

	p := plot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Z"
	p.Add(plotter.NewGrid())

	scatter, err := plotter.NewScatter(xys)
	if err != nil {
		return fmt.Errorf("failed to create scatter: %w", err)
	}
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	scatter.GlyphStyle.Radius = vg.Points(0.6)
	scatter.GlyphStyle.Color = color.RGBA{R: 0, G: 0x99, B: 0xFF, A: 0xFF}
	p.Add(scatter)

	wt, err := p.WriterTo(opts.Width, opts.Height, "png")
	if err != nil {
		return fmt.Errorf("failed to render preview: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write preview: %w", err)
	}
	return nil
}
