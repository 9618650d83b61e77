// Package stats accumulates and persists per-run reconciliation statistics
package stats

import (
	"time"

	"github.com/jeffstoner/ganymede/internal/txlog"
)

// NewRunStats starts the accumulator for a run
func NewRunStats(runID string, startedAt time.Time, window txlog.Window, expectedSources int) *RunStats {
	return &RunStats{
		RunID:           runID,
		StartedAt:       startedAt,
		Window:          window,
		ExpectedSources: expectedSources,
	}
}

// AddIteration counts one pass of the loop that reached the store
func (s *RunStats) AddIteration() {
	s.Iterations++
}

// AddScanFailure counts a pass that could not read the log
func (s *RunStats) AddScanFailure() {
	s.Iterations++
	s.ScanFailures++
}

// AddDispatch counts one dispatch attempt and whether it failed to start
func (s *RunStats) AddDispatch(err error) {
	s.Dispatched++
	if err != nil {
		s.DispatchFailures++
	}
}

// Finish stamps the terminal outcome
func (s *RunStats) Finish(outcome Outcome, at time.Time) {
	s.Outcome = outcome
	s.FinishedAt = at
}

// Runtime returns how long the run took, or zero while it is still going
func (s *RunStats) Runtime() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
