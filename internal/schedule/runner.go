package schedule

import (
	"context"
	"log/slog"
	"time"
)

// Job is one scheduled invocation. scheduledAt is the fire time it was
// started for.
type Job func(ctx context.Context, scheduledAt time.Time) error

// Runner invokes a job at each fire time of a schedule. Runs never
// overlap: a fire time that passes while the job is still running is
// skipped.
type Runner struct {
	schedule *Schedule
	job      Job
	logger   *slog.Logger

	now   func() time.Time
	after func(d time.Duration) <-chan time.Time
}

func NewRunner(schedule *Schedule, job Job, logger *slog.Logger) *Runner {
	return &Runner{
		schedule: schedule,
		job:      job,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		after:    time.After,
	}
}

// Run blocks until ctx is cancelled. Cancellation is only observed between
// jobs. Job failures are logged and do not stop the runner.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("schedule runner started", "schedule", r.schedule.String())

	for {
		next, ok := r.schedule.Next(r.now())
		if !ok {
			return ErrNeverFires
		}

		r.logger.Info("next run scheduled", "at", next)

		select {
		case <-ctx.Done():
			r.logger.Info("schedule runner stopped")
			return nil
		case <-r.after(next.Sub(r.now())):
		}

		if err := r.job(ctx, next); err != nil {
			r.logger.Error("scheduled run failed",
				"scheduled_at", next,
				"error", err)
		}
	}
}
