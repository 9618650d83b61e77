package db

import "time"

// LogEvent is one row of the append-only transaction log
type LogEvent struct {
	ID            int64
	TransactionID string
	GeoID         int64
	Timestamp     time.Time
	Stage         string
	Status        string
	Message       string
	Nonce         *string // Only set on INIT events
}

// GeoConfig is the downstream database profile for one geo
type GeoConfig struct {
	ID        int64
	ShortName string
	DBHost    string
	DBSchema  string
	DBUser    string
	DBPass    string
}

// GeoRelease is a versioned table manifest handed to agents
type GeoRelease struct {
	ID       int64
	Release  string
	DBTables string
}

// Agent is a registered remote data source
type Agent struct {
	ID      int64
	UID     string
	Name    string
	Enabled bool
	Active  bool
}

// AgentSummary is an agent joined with its current geo assignment
type AgentSummary struct {
	Agent
	GeoShortName string // empty when unassigned
}

// Assignment binds an agent to one geo config and release
type Assignment struct {
	ID           int64
	AgentID      int64
	GeoConfigID  int64
	GeoReleaseID int64
}

// AssignmentProfile is everything an agent needs to start a transaction
type AssignmentProfile struct {
	AgentID   int64
	GeoID     int64
	GeoName   string
	DBHost    string
	DBSchema  string
	DBUser    string
	DBPass    string
	DBTables  string
	ReleaseID int64
}

// Upload associates a transaction with its stored dump
type Upload struct {
	TransactionID string
	Filename      string
}

// ReconcileRun records the outcome of one reconciliation run
type ReconcileRun struct {
	RunID           string
	StartedAt       time.Time
	FinishedAt      time.Time
	WindowStart     time.Time
	WindowEnd       time.Time
	ExpectedSources int
	Iterations      int
	Dispatched      int
	Outcome         string
}
