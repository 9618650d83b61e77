// Package reconciler implements the polling loop that compares what agents
// have finished against what workers have started and finished, dispatches
// the missing workers, and decides when a run is over.
//
// The loop is single-threaded. Each iteration opens a fresh store
// connection, runs the three registry queries over the run's fixed window,
// and acts on the resulting sets. There is no backoff and no dedup across
// iterations: a transaction stays eligible for dispatch until a worker logs
// WORKER_INIT/SUCCESS for it.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeffstoner/ganymede/internal/registry"
	"github.com/jeffstoner/ganymede/internal/stats"
	"github.com/jeffstoner/ganymede/internal/txlog"
)

const tracerName = "github.com/jeffstoner/ganymede/internal/reconciler"

// ErrFinished is returned when Run is called on an engine that already ran
var ErrFinished = errors.New("reconciler: run already finished")

// Engine drives one reconciliation run
type Engine struct {
	config     Config
	connect    Connector
	dispatcher Dispatcher
	trigger    Trigger
	clock      Clock
	logger     *slog.Logger
	tracer     trace.Tracer

	// State management
	state State

	// Optional state recorder for testing
	recorder *StateRecorder
}

// NewEngine creates an engine. The config is used as given; callers
// normalize it first.
func NewEngine(
	config Config,
	connect Connector,
	dispatcher Dispatcher,
	trigger Trigger,
	clock Clock,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		config:     config,
		connect:    connect,
		dispatcher: dispatcher,
		trigger:    trigger,
		clock:      clock,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
		state:      &RunningState{},
	}
}

// GetStateName returns the current state name
func (e *Engine) GetStateName() string {
	return e.state.Name()
}

// transitionTo performs a state transition and logs it
func (e *Engine) transitionTo(newState State) {
	oldStateName := e.state.Name()
	e.state = newState

	if e.recorder != nil {
		e.recorder.Record(newState)
	}

	e.logger.Info("state transition",
		"from", oldStateName,
		"to", newState.Name())
}

// Run executes the loop until the run completes or times out, then
// triggers extraction exactly once. An error before the loop starts means
// the run never began and nothing was triggered. Cancelling ctx does not
// stop a run; only MaxRunTime does. Values such as the trace span still
// flow through.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	if _, ok := e.state.(*RunningState); !ok {
		return Result{}, ErrFinished
	}
	ctx = context.WithoutCancel(ctx)

	rc, err := e.begin(ctx)
	if err != nil {
		return Result{}, err
	}

	if e.recorder != nil {
		e.recorder.Record(e.state)
	}

	run := stats.NewRunStats(rc.RunID, rc.StartedAt, rc.Window, rc.ExpectedSources.Len())
	logger := e.logger.With("run_id", rc.RunID)

	for {
		state, ok := e.state.(*RunningState)
		if !ok {
			break
		}

		now := e.clock.Now()
		if elapsed := now.Sub(rc.StartedAt); elapsed > e.config.MaxRunTime {
			logger.Info("exceeded max processing time",
				"elapsed", elapsed,
				"max_run_time", e.config.MaxRunTime)
			e.transitionTo(state.ToTimeout())
			break
		}

		if e.iterate(ctx, rc, run, logger) {
			e.transitionTo(state.ToComplete())
			break
		}

		e.clock.Sleep(e.config.LoopInterval)
	}

	return e.finish(ctx, rc, run, logger)
}

// begin fixes the run context: start time, window and expected sources
func (e *Engine) begin(ctx context.Context) (RunContext, error) {
	now := e.clock.Now().UTC()

	conn, err := e.connect(ctx)
	if err != nil {
		return RunContext{}, fmt.Errorf("connect to event log: %w", err)
	}
	defer conn.Close()

	expected, err := registry.New(conn).ExpectedSources(ctx)
	if err != nil {
		return RunContext{}, err
	}

	rc := RunContext{
		RunID:           uuid.NewString(),
		StartedAt:       now,
		Window:          txlog.HourWindow(now),
		ExpectedSources: expected,
	}

	e.logger.Info("reconciler initialized",
		"run_id", rc.RunID,
		"expected_sources", expected.Len(),
		"window", rc.Window.String(),
		"loop_interval", e.config.LoopInterval,
		"max_run_time", e.config.MaxRunTime)

	return rc, nil
}

// iterate runs one pass of the loop and reports whether the run is complete
func (e *Engine) iterate(ctx context.Context, rc RunContext, run *stats.RunStats, logger *slog.Logger) bool {
	ctx, span := e.tracer.Start(ctx, "reconciler.iteration",
		trace.WithAttributes(
			attribute.String("run_id", rc.RunID),
			attribute.Int("iteration", run.Iterations+1),
		))
	defer span.End()

	logger.Info("scanning transaction log")

	snap, err := e.scan(ctx, rc, logger)
	if err != nil {
		run.AddScanFailure()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("scan failed, retrying next iteration", "error", err)
		return false
	}
	run.AddIteration()

	logger.Info("scan complete",
		"agent_completed", snap.AgentCompleted.Len(),
		"worker_started", snap.WorkerStarted.Len(),
		"worker_completed", snap.WorkerCompleted.Len())

	span.SetAttributes(
		attribute.Int("agent_completed", snap.AgentCompleted.Len()),
		attribute.Int("worker_started", snap.WorkerStarted.Len()),
		attribute.Int("worker_completed", snap.WorkerCompleted.Len()),
	)

	if snap.AgentCompleted.Len() == 0 {
		logger.Info("no agents have completed their transactions, pausing")
		return false
	}

	if snap.Complete(rc.ExpectedSources) {
		logger.Info("all agent transactions have been processed")
		return true
	}

	for _, id := range snap.NeedsDispatch().Sorted() {
		logger.Info("launching worker", "transaction_id", id)

		err := e.dispatcher.Dispatch(ctx, id)
		run.AddDispatch(err)
		if err != nil {
			span.RecordError(err)
			logger.Error("failed to launch worker",
				"transaction_id", id,
				"error", err)
		}
	}

	return false
}

// scan reconnects and queries the three transaction sets
func (e *Engine) scan(ctx context.Context, rc RunContext, logger *slog.Logger) (registry.Snapshot, error) {
	conn, err := e.connect(ctx)
	if err != nil {
		return registry.Snapshot{}, fmt.Errorf("connect to event log: %w", err)
	}
	defer conn.Close()

	snap, err := registry.New(conn).Snapshot(ctx, rc.Window)
	if err != nil {
		return registry.Snapshot{}, err
	}

	for _, id := range snap.AgentCompleted.Sorted() {
		logger.Debug("found agent transaction", "transaction_id", id)
	}
	for _, id := range snap.WorkerStarted.Sorted() {
		logger.Debug("found in-progress worker transaction", "transaction_id", id)
	}
	for _, id := range snap.WorkerCompleted.Sorted() {
		logger.Debug("found completed worker transaction", "transaction_id", id)
	}

	return snap, nil
}

// finish records the run and launches extraction. Both terminal states
// take this path.
func (e *Engine) finish(ctx context.Context, rc RunContext, run *stats.RunStats, logger *slog.Logger) (Result, error) {
	outcome := stats.OutcomeComplete
	if _, ok := e.state.(*TimeoutState); ok {
		outcome = stats.OutcomeTimeout
	}
	run.Finish(outcome, e.clock.Now())

	e.recordRun(ctx, run, logger)

	result := Result{
		RunID:      rc.RunID,
		Outcome:    outcome,
		Iterations: run.Iterations,
		Dispatched: run.Dispatched,
	}

	logger.Info("launching extract job", "outcome", outcome)
	if err := e.trigger.Trigger(ctx); err != nil {
		logger.Error("failed to launch extract job", "error", err)
		return result, fmt.Errorf("launch extract job: %w", err)
	}

	logger.Info("reconciliation complete",
		"outcome", outcome,
		"iterations", run.Iterations,
		"dispatched", run.Dispatched,
		"runtime", run.Runtime())

	return result, nil
}

// recordRun persists the run outcome. Failures are logged only.
func (e *Engine) recordRun(ctx context.Context, run *stats.RunStats, logger *slog.Logger) {
	conn, err := e.connect(ctx)
	if err != nil {
		logger.Error("failed to record run", "error", err)
		return
	}
	defer conn.Close()

	if err := stats.NewDBAdapter(conn).WriteRun(ctx, run); err != nil {
		logger.Error("failed to record run", "error", err)
	}
}
