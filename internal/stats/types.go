package stats

import (
	"time"

	"github.com/jeffstoner/ganymede/internal/txlog"
)

// Outcome is how a reconciliation run terminated
type Outcome string

const (
	OutcomeComplete Outcome = "complete"
	OutcomeTimeout  Outcome = "timeout"
)

// RunStats accumulates the counters of one reconciliation run
type RunStats struct {
	RunID           string
	StartedAt       time.Time
	FinishedAt      time.Time
	Window          txlog.Window
	ExpectedSources int

	Iterations       int
	Dispatched       int
	DispatchFailures int
	ScanFailures     int

	Outcome Outcome
}
