package api

import (
	"log"
	"sync"
	"time"

	"github.com/vib3/photomesh/internal/db"
	"github.com/vib3/photomesh/internal/progress"
	"github.com/vib3/photomesh/internal/timeutil"
)

// StageRecorder persists finished and failed stage events as stage rows.
type StageRecorder struct {
	DB *db.DB
}

// Publish implements pipeline.Reporter.
func (sr StageRecorder) Publish(e progress.Event) {
	if sr.DB == nil || e.RunID == "" || e.Stage == "" {
		return
	}
	if e.State != progress.StateFinished && e.State != progress.StateFailed {
		return
	}
	duration := time.Duration(e.DurationMS) * time.Millisecond
	err := sr.DB.RecordStage(db.Stage{
		RunID:      e.RunID,
		Seq:        e.Step,
		Name:       e.Stage,
		Label:      e.Label,
		Status:     string(e.State),
		Message:    e.Message,
		StartedAt:  e.Time.Add(-duration),
		DurationMS: e.DurationMS,
	})
	if err != nil {
		log.Printf("failed to record stage %s of run %s: %v", e.Stage, e.RunID, err)
	}
}

// LineForwarder publishes COLMAP output lines as log events of the run in
// progress. The run ID comes from the pipeline's own events; only one
// reconstruction runs at a time.
type LineForwarder struct {
	Broker *progress.Broker
	Clock  timeutil.Clock

	mu    sync.Mutex
	runID string
	stage string
}

// Publish implements pipeline.Reporter.
func (lf *LineForwarder) Publish(e progress.Event) {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	lf.runID = e.RunID
	lf.stage = e.Stage
}

// OnLine matches colmap.LineFunc.
func (lf *LineForwarder) OnLine(subcommand, stream, line string) {
	lf.mu.Lock()
	runID, stage := lf.runID, lf.stage
	lf.mu.Unlock()
	if stage == "" {
		stage = subcommand
	}
	e := progress.Event{RunID: runID, Stage: stage, State: progress.StateLog, Message: line}
	if lf.Clock != nil {
		e.Time = lf.Clock.Now()
	}
	lf.Broker.Publish(e)
}
