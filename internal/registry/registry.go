// Package registry derives transaction state from the event log. Every query
// collapses the log into sets; membership is what matters, never counts.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/jeffstoner/ganymede/internal/db"
	"github.com/jeffstoner/ganymede/internal/txlog"
)

// Store is the subset of the event log store the registry reads from
type Store interface {
	TransactionIDs(ctx context.Context, start, end time.Time, stage, status string) ([]string, error)
	ActiveGeoIDs(ctx context.Context) ([]int64, error)
	EventsForStage(ctx context.Context, transactionID, stage string) ([]db.LogEvent, error)
	HasStage(ctx context.Context, transactionID, stage string) (bool, error)
}

// Registry answers "which transactions are in state X" over a Store
type Registry struct {
	store Store
}

// New creates a registry reading from store
func New(store Store) *Registry {
	return &Registry{store: store}
}

// InState returns the distinct transactions that logged stage with status
// inside the window
func (r *Registry) InState(ctx context.Context, w txlog.Window, stage txlog.Stage, status txlog.Status) (txlog.TransactionSet, error) {
	ids, err := r.store.TransactionIDs(ctx, w.Start, w.End, string(stage), string(status))
	if err != nil {
		return nil, fmt.Errorf("query %s/%s: %w", stage, status, err)
	}

	return txlog.NewTransactionSet(ids...), nil
}

// AgentCompleted returns transactions with AGENT_END/SUCCESS in the window
func (r *Registry) AgentCompleted(ctx context.Context, w txlog.Window) (txlog.TransactionSet, error) {
	return r.InState(ctx, w, txlog.AgentEnd, txlog.StatusSuccess)
}

// WorkerStarted returns transactions with WORKER_INIT/SUCCESS in the window
func (r *Registry) WorkerStarted(ctx context.Context, w txlog.Window) (txlog.TransactionSet, error) {
	return r.InState(ctx, w, txlog.WorkerInit, txlog.StatusSuccess)
}

// WorkerCompleted returns transactions with WORKER_END/SUCCESS in the window
func (r *Registry) WorkerCompleted(ctx context.Context, w txlog.Window) (txlog.TransactionSet, error) {
	return r.InState(ctx, w, txlog.WorkerEnd, txlog.StatusSuccess)
}

// ExpectedSources returns the geos that have at least one enabled, active,
// assigned agent
func (r *Registry) ExpectedSources(ctx context.Context) (txlog.GeoSet, error) {
	ids, err := r.store.ActiveGeoIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("query expected sources: %w", err)
	}

	return txlog.NewGeoSet(ids...), nil
}

// Snapshot is the result of the three reconciliation queries over one window
type Snapshot struct {
	AgentCompleted  txlog.TransactionSet
	WorkerStarted   txlog.TransactionSet
	WorkerCompleted txlog.TransactionSet
}

// NeedsDispatch returns agent-completed transactions with no worker start
func (s Snapshot) NeedsDispatch() txlog.TransactionSet {
	return s.AgentCompleted.Difference(s.WorkerStarted)
}

// Complete reports whether every expected source produced a completed
// transaction and every one of those has a completed worker. Sizes alone
// are not enough; the transaction identities must match.
func (s Snapshot) Complete(expected txlog.GeoSet) bool {
	return expected.Len() == s.AgentCompleted.Len() && s.AgentCompleted.Equal(s.WorkerCompleted)
}

// Snapshot runs the three reconciliation queries over the window
func (r *Registry) Snapshot(ctx context.Context, w txlog.Window) (Snapshot, error) {
	agentCompleted, err := r.AgentCompleted(ctx, w)
	if err != nil {
		return Snapshot{}, err
	}

	workerStarted, err := r.WorkerStarted(ctx, w)
	if err != nil {
		return Snapshot{}, err
	}

	workerCompleted, err := r.WorkerCompleted(ctx, w)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		AgentCompleted:  agentCompleted,
		WorkerStarted:   workerStarted,
		WorkerCompleted: workerCompleted,
	}, nil
}

// Latest returns the most recent event of a transaction for one stage.
// The projection is computed here rather than trusting storage order.
func (r *Registry) Latest(ctx context.Context, transactionID string, stage txlog.Stage) (txlog.Event, bool, error) {
	rows, err := r.store.EventsForStage(ctx, transactionID, string(stage))
	if err != nil {
		return txlog.Event{}, false, fmt.Errorf("query latest %s: %w", stage, err)
	}

	events := make([]txlog.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, ToEvent(row))
	}

	e, ok := txlog.Latest(events, stage)
	return e, ok, nil
}

// Exists reports whether the transaction has any event for the stage
func (r *Registry) Exists(ctx context.Context, transactionID string, stage txlog.Stage) (bool, error) {
	ok, err := r.store.HasStage(ctx, transactionID, string(stage))
	if err != nil {
		return false, fmt.Errorf("query %s existence: %w", stage, err)
	}
	return ok, nil
}

// ToEvent converts a stored row into a log event
func ToEvent(row db.LogEvent) txlog.Event {
	e := txlog.Event{
		ID:            row.ID,
		TransactionID: row.TransactionID,
		Geo:           row.GeoID,
		Timestamp:     row.Timestamp,
		Stage:         txlog.Stage(row.Stage),
		Status:        txlog.Status(row.Status),
		Message:       row.Message,
	}
	if row.Nonce != nil {
		e.Nonce = *row.Nonce
	}
	return e
}
