package db

import "context"

// CreateReconcileRun records the outcome of a reconciliation run
func (db *DB) CreateReconcileRun(ctx context.Context, run *ReconcileRun) error {
	query := `
		INSERT INTO reconcile_runs (
			run_id, started_at, finished_at, window_start, window_end,
			expected_sources, iterations, dispatched, outcome
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.exec(ctx, query,
		run.RunID,
		utc(run.StartedAt),
		utc(run.FinishedAt),
		utc(run.WindowStart),
		utc(run.WindowEnd),
		run.ExpectedSources,
		run.Iterations,
		run.Dispatched,
		run.Outcome,
	)

	return err
}

// ListReconcileRuns retrieves the most recent runs, newest first
func (db *DB) ListReconcileRuns(ctx context.Context, limit int) ([]ReconcileRun, error) {
	query := `
		SELECT run_id, started_at, finished_at, window_start, window_end,
			expected_sources, iterations, dispatched, outcome
		FROM reconcile_runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := db.query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ReconcileRun
	for rows.Next() {
		var run ReconcileRun
		err := rows.Scan(
			&run.RunID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.WindowStart,
			&run.WindowEnd,
			&run.ExpectedSources,
			&run.Iterations,
			&run.Dispatched,
			&run.Outcome,
		)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	// Return empty slice instead of nil
	if runs == nil {
		runs = []ReconcileRun{}
	}

	return runs, nil
}
