// Package viewer turns control panel form values into the parameters the
// embedded STL viewer is rendered with.
package viewer

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Defaults shown in the control panel.
const (
	DefaultColor           = "#0099FF"
	DefaultMaterial        = "material"
	DefaultAxis            = AxisHorizontal
	DefaultOpacity         = 1.0
	DefaultHeight          = 500
	DefaultCamVAngle       = 60.0
	DefaultCamHAngle       = -90.0
	DefaultCamDistance     = 0.0
	DefaultMaxViewDistance = 1000.0

	// RotationStep is how far the camera advances per render while
	// auto-rotation is on.
	RotationStep = 2.0
)

// Auto-rotation axes.
const (
	AxisHorizontal = "Horizontal"
	AxisLeft       = "Left"
)

// Materials lists the accepted material names.
var Materials = []string{"material", "flat", "wireframe"}

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Params are the viewer controls as submitted by the form.
type Params struct {
	Color           string  `json:"color"`
	Material        string  `json:"material"`
	AutoRotate      bool    `json:"auto_rotate"`
	Axis            string  `json:"axis"`
	Opacity         float64 `json:"opacity"`
	Height          int     `json:"height"`
	CamVAngle       float64 `json:"cam_v_angle"`
	CamHAngle       float64 `json:"cam_h_angle"`
	CamDistance     float64 `json:"cam_distance"`
	MaxViewDistance float64 `json:"max_view_distance"`
}

// DefaultParams returns the initial control values.
func DefaultParams() Params {
	return Params{
		Color:           DefaultColor,
		Material:        DefaultMaterial,
		Axis:            DefaultAxis,
		Opacity:         DefaultOpacity,
		Height:          DefaultHeight,
		CamVAngle:       DefaultCamVAngle,
		CamHAngle:       DefaultCamHAngle,
		CamDistance:     DefaultCamDistance,
		MaxViewDistance: DefaultMaxViewDistance,
	}
}

// ParseParams reads viewer controls from query or form values. Missing
// values keep their defaults; present values are range checked.
func ParseParams(q url.Values) (Params, error) {
	p := DefaultParams()

	if q.Has("color") {
		p.Color = strings.TrimSpace(q.Get("color"))
		if p.Color != "" && !colorPattern.MatchString(p.Color) {
			return p, fmt.Errorf("color must be #RRGGBB, got %q", p.Color)
		}
	}
	if v := q.Get("material"); v != "" {
		if !contains(Materials, v) {
			return p, fmt.Errorf("material must be one of %s, got %q", strings.Join(Materials, ", "), v)
		}
		p.Material = v
	}
	if v := q.Get("auto_rotate"); v != "" {
		b, err := parseBool(v)
		if err != nil {
			return p, fmt.Errorf("invalid auto_rotate %q", v)
		}
		p.AutoRotate = b
	}
	if v := q.Get("axis"); v != "" {
		if v != AxisHorizontal && v != AxisLeft {
			return p, fmt.Errorf("axis must be %s or %s, got %q", AxisHorizontal, AxisLeft, v)
		}
		p.Axis = v
	}

	var err error
	if p.Opacity, err = floatParam(q, "opacity", p.Opacity, 0, 1); err != nil {
		return p, err
	}
	height, err := floatParam(q, "height", float64(p.Height), 50, 1000)
	if err != nil {
		return p, err
	}
	p.Height = int(height)
	if p.MaxViewDistance, err = floatParam(q, "max_view_distance", p.MaxViewDistance, 1, 1000); err != nil {
		return p, err
	}
	if p.CamVAngle, err = floatParam(q, "cam_v_angle", p.CamVAngle, 0, 0); err != nil {
		return p, err
	}
	if p.CamHAngle, err = floatParam(q, "cam_h_angle", p.CamHAngle, 0, 0); err != nil {
		return p, err
	}
	if p.CamDistance, err = floatParam(q, "cam_distance", p.CamDistance, 0, 0); err != nil {
		return p, err
	}
	return p, nil
}

// floatParam parses key from q. When min < max the value must lie in
// [min, max].
func floatParam(q url.Values, key string, def, min, max float64) (float64, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q", key, v)
	}
	if min < max && (f < min || f > max) {
		return def, fmt.Errorf("%s must be between %g and %g, got %g", key, min, max, f)
	}
	return f, nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(v)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// View is what the viewer is rendered with. Color is empty when the viewer
// should use its own default.
type View struct {
	Color           string  `json:"color,omitempty"`
	Material        string  `json:"material"`
	AutoRotate      bool    `json:"auto_rotate"`
	Opacity         float64 `json:"opacity"`
	Height          int     `json:"height"`
	CamVAngle       float64 `json:"cam_v_angle"`
	CamHAngle       float64 `json:"cam_h_angle"`
	CamDistance     float64 `json:"cam_distance"`
	MaxViewDistance float64 `json:"max_view_distance"`
}

// NextOffset advances the rotation offset for one render: it grows by
// RotationStep while auto-rotation is on and resets to zero when off.
func NextOffset(autoRotate bool, offset float64) float64 {
	if !autoRotate {
		return 0
	}
	return offset + RotationStep
}

// Effective applies a rotation offset to p. Horizontal rotation adds the
// offset to the horizontal camera angle, Left rotation to the vertical one.
func Effective(p Params, offset float64) View {
	v := View{
		Material:        p.Material,
		AutoRotate:      p.AutoRotate,
		Opacity:         p.Opacity,
		Height:          p.Height,
		CamVAngle:       p.CamVAngle,
		CamHAngle:       p.CamHAngle,
		CamDistance:     p.CamDistance,
		MaxViewDistance: p.MaxViewDistance,
	}
	if c := strings.TrimSpace(p.Color); c != "" && !strings.EqualFold(c, DefaultColor) {
		v.Color = c
	}
	if p.AutoRotate {
		switch p.Axis {
		case AxisHorizontal:
			v.CamHAngle += offset
		case AxisLeft:
			v.CamVAngle += offset
		}
	}
	return v
}
