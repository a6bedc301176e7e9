package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// Run is one reconstruction request.
type Run struct {
	ID           string     `json:"id"`
	SessionID    string     `json:"-"`
	ProjectName  string     `json:"project_name"`
	OutputDir    string     `json:"output_dir"`
	ImageCount   int        `json:"image_count"`
	Mesher       string     `json:"mesher"`
	Status       string     `json:"status"`
	ErrorKind    string     `json:"error_kind,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ModelsDir    string     `json:"models_dir,omitempty"`
	FusedPath    string     `json:"fused_path,omitempty"`
	Vertices     int        `json:"vertices"`
	Triangles    int        `json:"triangles"`
	SurfaceArea  float64    `json:"surface_area"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Stages       []Stage    `json:"stages,omitempty"`
}

// RunOutcome is what FinishRun records.
type RunOutcome struct {
	Status       string
	ErrorKind    string
	ErrorMessage string
	ModelsDir    string
	FusedPath    string
	Vertices     int
	Triangles    int
	SurfaceArea  float64
	FinishedAt   time.Time
}

// Stage is the timing of one pipeline stage within a run.
type Stage struct {
	RunID      string    `json:"-"`
	Seq        int       `json:"seq"`
	Name       string    `json:"name"`
	Label      string    `json:"label"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// CreateRun inserts r with status running. ID and StartedAt must be set.
func (db *DB) CreateRun(r *Run) error {
	if r.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if r.Status == "" {
		r.Status = RunStatusRunning
	}
	_, err := db.Exec(`
		INSERT INTO runs (run_id, session_id, project_name, output_dir, image_count, mesher, status, started_unix_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.ProjectName, r.OutputDir, r.ImageCount, r.Mesher, r.Status, unixMillis(r.StartedAt))
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// FinishRun records the outcome of a run.
func (db *DB) FinishRun(id string, o RunOutcome) error {
	res, err := db.Exec(`
		UPDATE runs SET status = ?, error_kind = ?, error_message = ?, models_dir = ?, fused_path = ?,
			vertices = ?, triangles = ?, surface_area = ?, finished_unix_ms = ?
		WHERE run_id = ?`,
		o.Status, o.ErrorKind, o.ErrorMessage, o.ModelsDir, o.FusedPath,
		o.Vertices, o.Triangles, o.SurfaceArea, unixMillis(o.FinishedAt), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

const runColumns = `run_id, session_id, project_name, output_dir, image_count, mesher, status,
	error_kind, error_message, models_dir, fused_path, vertices, triangles, surface_area,
	started_unix_ms, finished_unix_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r        Run
		started  int64
		finished sql.NullInt64
	)
	err := s.Scan(&r.ID, &r.SessionID, &r.ProjectName, &r.OutputDir, &r.ImageCount, &r.Mesher, &r.Status,
		&r.ErrorKind, &r.ErrorMessage, &r.ModelsDir, &r.FusedPath, &r.Vertices, &r.Triangles, &r.SurfaceArea,
		&started, &finished)
	if err != nil {
		return nil, err
	}
	r.StartedAt = fromUnixMillis(started)
	if finished.Valid {
		t := fromUnixMillis(finished.Int64)
		r.FinishedAt = &t
	}
	return &r, nil
}

// GetRun returns a run with its stages.
func (db *DB) GetRun(id string) (*Run, error) {
	r, err := scanRun(db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	r.Stages, err = db.RunStages(id)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListRuns returns the most recent runs first, without stages. A
// non-positive limit defaults to 50.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_unix_ms DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// RecordStage stores one stage timing. Seq orders stages within the run.
func (db *DB) RecordStage(s Stage) error {
	_, err := db.Exec(`
		INSERT INTO run_stages (run_id, seq, stage, label, status, message, started_unix_ms, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, s.Seq, s.Name, s.Label, s.Status, s.Message, unixMillis(s.StartedAt), s.DurationMS)
	if err != nil {
		return fmt.Errorf("failed to record stage %s: %w", s.Name, err)
	}
	return nil
}

// RunStages returns the stages of a run in order.
func (db *DB) RunStages(runID string) ([]Stage, error) {
	rows, err := db.Query(`
		SELECT run_id, seq, stage, label, status, message, started_unix_ms, duration_ms
		FROM run_stages WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stages: %w", err)
	}
	defer rows.Close()

	stages := []Stage{}
	for rows.Next() {
		var (
			s       Stage
			started int64
		)
		if err := rows.Scan(&s.RunID, &s.Seq, &s.Name, &s.Label, &s.Status, &s.Message, &started, &s.DurationMS); err != nil {
			return nil, err
		}
		s.StartedAt = fromUnixMillis(started)
		stages = append(stages, s)
	}
	return stages, rows.Err()
}
