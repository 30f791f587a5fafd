package model

import "time"

// LoginRun is the audit record of a single login attempt. Artifact paths are
// relative to the data directory and blank when the file was never written.
type LoginRun struct {
	ID                  int64
	AccountID           int64
	AttemptID           string
	Trigger             RunTrigger
	StartedAt           time.Time
	FinishedAt          *time.Time // Nil while the run is in flight.
	OK                  bool
	Message             string
	FinalURL            string
	StatePath           string
	ScreenshotPath      string
	ErrorScreenshotPath string
}

// Running reports whether the run has not been finalized yet.
func (r LoginRun) Running() bool {
	return r.FinishedAt == nil
}

// RunOutcome carries everything written when a run is finalized: the run
// columns and the account status mirror.
type RunOutcome struct {
	RunID               int64
	AccountID           int64
	OK                  bool
	Message             string
	FinalURL            string
	StatePath           string
	ScreenshotPath      string
	ErrorScreenshotPath string
	StartedAt           time.Time
	FinishedAt          time.Time
	NextRunAt           time.Time
}
