package stats

import (
	"context"
	"fmt"

	"github.com/jeffstoner/ganymede/internal/db"
)

// DatabaseWriter is the store operation needed to persist a run
type DatabaseWriter interface {
	CreateReconcileRun(ctx context.Context, run *db.ReconcileRun) error
}

// DBAdapter writes run statistics through a DatabaseWriter
type DBAdapter struct {
	db DatabaseWriter
}

// NewDBAdapter creates a new database adapter
func NewDBAdapter(database DatabaseWriter) *DBAdapter {
	return &DBAdapter{db: database}
}

// WriteRun persists a finished run
func (a *DBAdapter) WriteRun(ctx context.Context, s *RunStats) error {
	if s.Outcome == "" {
		return fmt.Errorf("run %s has not finished", s.RunID)
	}

	run := &db.ReconcileRun{
		RunID:           s.RunID,
		StartedAt:       s.StartedAt,
		FinishedAt:      s.FinishedAt,
		WindowStart:     s.Window.Start,
		WindowEnd:       s.Window.End,
		ExpectedSources: s.ExpectedSources,
		Iterations:      s.Iterations,
		Dispatched:      s.Dispatched,
		Outcome:         string(s.Outcome),
	}

	if err := a.db.CreateReconcileRun(ctx, run); err != nil {
		return fmt.Errorf("failed to write run stats: %w", err)
	}

	return nil
}
