package models

import "time"

// RunRecord is a persisted summary of a past run.
type RunRecord struct {
	RunID     string
	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Healthy   int
	Failed    int
	Blocked   int
}

// EventRecord is a persisted state transition of a past run.
type EventRecord struct {
	RunID  string
	Time   time.Time
	Device string
	From   string
	To     string
	Error  string
}
