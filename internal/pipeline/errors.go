package pipeline

import (
	"errors"

	"github.com/vib3/photomesh/internal/colmap"
)

var (
	// ErrBusy is returned when another reconstruction is already running.
	ErrBusy = errors.New("a reconstruction is already running")

	// ErrMissingInput is returned when no images or no output directory
	// were supplied.
	ErrMissingInput = errors.New("missing images or output directory")

	// ErrNoSparseModel is returned when the mapper produced no model.
	ErrNoSparseModel = errors.New("no sparse model found")
)

// MissingInputMessage is shown when a run is requested without images or
// an output directory.
const MissingInputMessage = "Please upload images and specify an output directory."

// Failure kinds.
const (
	KindTool  = "tool"
	KindInput = "input"
	KindBusy  = "busy"
	KindOther = "other"
)

// Classify maps a run error to its kind and the message shown to the user.
// A non-zero exit of the reconstruction executable is a tool failure;
// everything else is reported as a general error.
func Classify(err error) (kind, message string) {
	switch {
	case err == nil:
		return "", ""
	case colmap.IsToolError(err):
		return KindTool, "COLMAP Error: " + err.Error()
	case errors.Is(err, ErrMissingInput):
		return KindInput, MissingInputMessage
	case errors.Is(err, ErrBusy):
		return KindBusy, "Error: " + ErrBusy.Error()
	default:
		return KindOther, "Error: " + err.Error()
	}
}
