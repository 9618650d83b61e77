package reporting

import (
	"context"
	"errors"
	"io"

	"github.com/jeffstoner/ganymede/internal/db"
	"github.com/jeffstoner/ganymede/internal/registry"
)

// Standard errors
var (
	ErrAgentNotFound       = errors.New("reporting: agent not found or not assigned")
	ErrUnknownTransaction  = errors.New("reporting: transaction log not found")
	ErrTransactionClosed   = errors.New("reporting: transaction closed")
	ErrNotSuccessful       = errors.New("reporting: transaction was not successful")
	ErrUploadNotFound      = errors.New("reporting: upload not found")
	ErrWorkerNotStarted    = errors.New("reporting: worker has not started")
	ErrInvalidUpload       = errors.New("reporting: invalid dump format")
	ErrInvalidSchemaAction = errors.New("reporting: invalid schema action")
)

// Store is the slice of the event log store the reporting service uses
type Store interface {
	registry.Store
	GetAssignmentProfile(ctx context.Context, uid string) (*db.AssignmentProfile, error)
	AppendEvent(ctx context.Context, event *db.LogEvent) error
	EventsForTransaction(ctx context.Context, transactionID string) ([]db.LogEvent, error)
	UpsertUpload(ctx context.Context, upload *db.Upload) error
	GetUpload(ctx context.Context, transactionID string) (*db.Upload, error)
}

// SchemaManager issues downstream schema DDL
type SchemaManager interface {
	CreateSchema(ctx context.Context, name string) error
	DropSchema(ctx context.Context, name string) error
}

// UploadStore persists agent dumps
type UploadStore interface {
	Allowed(filename string) bool
	Save(ctx context.Context, filename string, body io.Reader) error
}

// Handoff is everything an agent needs to run a new transaction
type Handoff struct {
	GeoID         string `json:"geo_id"`
	DBHost        string `json:"db_host"`
	DBSchema      string `json:"db_schema"`
	DBUser        string `json:"db_user"`
	DBPass        string `json:"db_pass"`
	DBTables      string `json:"db_tables"`
	TransactionID string `json:"transaction_id"`
	Nonce         string `json:"nonce"`
}

// WorkerDetails is what a worker needs to pick up an agent's upload
type WorkerDetails struct {
	Filename string `json:"filename"`
	Nonce    string `json:"nonce"`
}

// SchemaAction is a downstream schema operation requested by a worker
type SchemaAction string

const (
	SchemaCreate  SchemaAction = "CREATE"
	SchemaDestroy SchemaAction = "DESTROY"
)
