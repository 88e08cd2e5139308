package models

import "time"

// RunResult holds the overall result of a harvesting run.
type RunResult struct {
	StartTime      time.Time
	EndTime        time.Time
	UnitsCompleted int
	UnitsSkipped   int
	RecordCount    int
	AssetCount     int
	MissingImages  []string
	FailedUnits    []string
	ErrorsByType   map[string]int
	RequestCount   int
}

// Duration returns the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
