package models

import "time"

// AttemptResult is the outcome of a single probe attempt.
type AttemptResult struct {
	OK     bool
	Detail string // why the attempt failed, or what it observed
}

// ProbeResult holds the result of running all health checks of a device.
type ProbeResult struct {
	Healthy  bool
	Attempts int
	Duration time.Duration
	Error    error
}
