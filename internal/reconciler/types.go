package reconciler

import (
	"context"
	"time"

	"github.com/jeffstoner/ganymede/internal/registry"
	"github.com/jeffstoner/ganymede/internal/stats"
	"github.com/jeffstoner/ganymede/internal/txlog"
)

// Store is one connection to the event log
type Store interface {
	registry.Store
	stats.DatabaseWriter
	Close() error
}

// Connector opens a fresh store connection. The engine connects once per
// iteration and closes the connection before sleeping.
type Connector func(ctx context.Context) (Store, error)

// Dispatcher starts one worker for a transaction and returns without
// waiting for it
type Dispatcher interface {
	Dispatch(ctx context.Context, transactionID string) error
}

// Trigger launches the downstream extraction job
type Trigger interface {
	Trigger(ctx context.Context) error
}

// Clock supplies time and sleeping so tests can run the loop instantly
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now().UTC() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// RunContext is fixed when a run starts and never changes afterwards
type RunContext struct {
	RunID           string
	StartedAt       time.Time
	Window          txlog.Window
	ExpectedSources txlog.GeoSet
}

// Result describes how a run ended
type Result struct {
	RunID      string
	Outcome    stats.Outcome
	Iterations int
	Dispatched int
}
