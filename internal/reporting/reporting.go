// Package reporting accepts stage reports from agents and workers and
// hands out the per-transaction data they need. Every write is a single
// append to the transaction log; nothing here updates or removes events.
package reporting

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeffstoner/ganymede/internal/db"
	"github.com/jeffstoner/ganymede/internal/registry"
	"github.com/jeffstoner/ganymede/internal/txlog"
)

const (
	nonceBytes = 256

	initMessage = "Transaction log initiated"
)

// Service implements the stage reporting interface
type Service struct {
	store    Store
	registry *registry.Registry
	schemas  SchemaManager
	uploads  UploadStore
	now      func() time.Time
	logger   *slog.Logger
}

// NewService creates a reporting service. schemas and uploads may be nil
// when the caller never manages schemas or accepts uploads.
func NewService(store Store, schemas SchemaManager, uploads UploadStore, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		registry: registry.New(store),
		schemas:  schemas,
		uploads:  uploads,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock replaces the clock used to stamp new transactions
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateTransaction opens a new transaction for an assigned agent and
// returns the downstream connection profile together with the new ID and
// nonce.
func (s *Service) CreateTransaction(ctx context.Context, agentUID string) (*Handoff, error) {
	profile, err := s.profile(ctx, agentUID)
	if err != nil {
		return nil, err
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}

	event := &db.LogEvent{
		TransactionID: uuid.NewString(),
		GeoID:         profile.GeoID,
		Timestamp:     s.now().UTC(),
		Stage:         string(txlog.AgentInit),
		Status:        string(txlog.StatusSuccess),
		Message:       initMessage,
		Nonce:         &nonce,
	}

	if err := s.store.AppendEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to initiate transaction log: %w", err)
	}

	s.logger.Info("transaction created",
		"transaction_id", event.TransactionID,
		"agent_id", agentUID,
		"geo", profile.GeoName)

	return &Handoff{
		GeoID:         profile.GeoName,
		DBHost:        profile.DBHost,
		DBSchema:      profile.DBSchema,
		DBUser:        profile.DBUser,
		DBPass:        profile.DBPass,
		DBTables:      profile.DBTables,
		TransactionID: event.TransactionID,
		Nonce:         nonce,
	}, nil
}

// AppendAgentStage records an agent's progress on one of its transactions.
// The event is attributed to the agent's assigned geo.
func (s *Service) AppendAgentStage(ctx context.Context, agentUID, transactionID string, report txlog.Report) (*txlog.Event, error) {
	valid, err := report.Validate(txlog.ActorAgent)
	if err != nil {
		return nil, err
	}

	profile, err := s.profile(ctx, agentUID)
	if err != nil {
		return nil, err
	}

	if err := s.requireOpened(ctx, transactionID); err != nil {
		return nil, err
	}

	return s.append(ctx, transactionID, profile.GeoID, valid, txlog.ActorAgent)
}

// AppendWorkerStage records a worker's progress. The event inherits the
// geo of the transaction's INIT event.
func (s *Service) AppendWorkerStage(ctx context.Context, transactionID string, report txlog.Report) (*txlog.Event, error) {
	valid, err := report.Validate(txlog.ActorWorker)
	if err != nil {
		return nil, err
	}

	opened, err := s.initEvent(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	return s.append(ctx, transactionID, opened.Geo, valid, txlog.ActorWorker)
}

func (s *Service) append(ctx context.Context, transactionID string, geo int64, report txlog.ValidReport, actor txlog.Actor) (*txlog.Event, error) {
	event := &db.LogEvent{
		TransactionID: transactionID,
		GeoID:         geo,
		Timestamp:     report.Timestamp,
		Stage:         string(report.Stage),
		Status:        string(report.Status),
		Message:       report.Message,
	}

	if err := s.store.AppendEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to update transaction log: %w", err)
	}

	s.logger.Info("stage recorded",
		"transaction_id", transactionID,
		"actor", actor.String(),
		"stage", event.Stage,
		"status", event.Status)

	recorded := registry.ToEvent(*event)
	return &recorded, nil
}

// TransactionLog returns every event of a transaction ordered by
// timestamp, then by log sequence
func (s *Service) TransactionLog(ctx context.Context, agentUID, transactionID string) ([]txlog.Event, error) {
	if _, err := s.profile(ctx, agentUID); err != nil {
		return nil, err
	}

	rows, err := s.store.EventsForTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction log: %w", err)
	}

	events := make([]txlog.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, registry.ToEvent(row))
	}
	return events, nil
}

// RecordUpload stores an agent's dump and records its filename. Repeated
// uploads for a transaction overwrite the recorded filename.
func (s *Service) RecordUpload(ctx context.Context, agentUID, transactionID, filename string, body io.Reader) error {
	if _, err := s.profile(ctx, agentUID); err != nil {
		return err
	}

	if err := s.requireOpened(ctx, transactionID); err != nil {
		return err
	}

	ends, err := s.store.EventsForStage(ctx, transactionID, string(txlog.AgentEnd))
	if err != nil {
		return fmt.Errorf("failed to read transaction log: %w", err)
	}
	for _, e := range ends {
		if e.Status == string(txlog.StatusSuccess) {
			return ErrTransactionClosed
		}
	}

	name := filepath.Base(filename)
	if name == "." || name == "/" || !s.uploads.Allowed(name) {
		return fmt.Errorf("%w: %q", ErrInvalidUpload, filename)
	}

	if err := s.uploads.Save(ctx, name, body); err != nil {
		return fmt.Errorf("error writing dump file to storage: %w", err)
	}

	if err := s.store.UpsertUpload(ctx, &db.Upload{TransactionID: transactionID, Filename: name}); err != nil {
		return fmt.Errorf("failed to record upload: %w", err)
	}

	s.logger.Info("upload recorded",
		"transaction_id", transactionID,
		"agent_id", agentUID,
		"filename", name)
	return nil
}

// WorkerDetails returns the upload filename and nonce of a transaction
// whose latest AGENT_END succeeded
func (s *Service) WorkerDetails(ctx context.Context, transactionID string) (*WorkerDetails, error) {
	end, ok, err := s.registry.Latest(ctx, transactionID, txlog.AgentEnd)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownTransaction
	}
	if !end.Succeeded() {
		return nil, ErrNotSuccessful
	}

	opened, err := s.initEvent(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	upload, err := s.store.GetUpload(ctx, transactionID)
	if db.IsNotFound(err) {
		return nil, ErrUploadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	return &WorkerDetails{Filename: upload.Filename, Nonce: opened.Nonce}, nil
}

// ParseSchemaAction matches s case-insensitively against the schema actions
func ParseSchemaAction(s string) (SchemaAction, error) {
	switch action := SchemaAction(strings.ToUpper(strings.TrimSpace(s))); action {
	case SchemaCreate, SchemaDestroy:
		return action, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSchemaAction, s)
	}
}

// SchemaName returns the downstream schema used by a transaction's worker
func SchemaName(transactionID string) string {
	return "G_" + strings.ReplaceAll(transactionID, "-", "_")
}

// ManageSchema creates or drops a transaction's downstream schema. The
// transaction's latest WORKER_INIT must have succeeded.
func (s *Service) ManageSchema(ctx context.Context, transactionID, action string) (string, error) {
	act, err := ParseSchemaAction(action)
	if err != nil {
		return "", err
	}

	start, ok, err := s.registry.Latest(ctx, transactionID, txlog.WorkerInit)
	if err != nil {
		return "", err
	}
	if !ok || !start.Succeeded() {
		return "", ErrWorkerNotStarted
	}

	name := SchemaName(transactionID)
	switch act {
	case SchemaCreate:
		err = s.schemas.CreateSchema(ctx, name)
	case SchemaDestroy:
		err = s.schemas.DropSchema(ctx, name)
	}
	if err != nil {
		return "", fmt.Errorf("%s schema %s: %w", act, name, err)
	}

	s.logger.Info("schema action completed",
		"transaction_id", transactionID,
		"action", string(act),
		"schema", name)
	return name, nil
}

// profile resolves an agent's assignment, mapping an unknown or unassigned
// agent to ErrAgentNotFound
func (s *Service) profile(ctx context.Context, agentUID string) (*db.AssignmentProfile, error) {
	profile, err := s.store.GetAssignmentProfile(ctx, agentUID)
	if db.IsNotFound(err) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read agent assignment: %w", err)
	}
	return profile, nil
}

// requireOpened fails with ErrUnknownTransaction unless the transaction
// has an AGENT_INIT event
func (s *Service) requireOpened(ctx context.Context, transactionID string) error {
	ok, err := s.registry.Exists(ctx, transactionID, txlog.AgentInit)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownTransaction
	}
	return nil
}

// initEvent returns the AGENT_INIT event that opened a transaction, for
// callers that need its geo or nonce
func (s *Service) initEvent(ctx context.Context, transactionID string) (txlog.Event, error) {
	opened, ok, err := s.registry.Latest(ctx, transactionID, txlog.AgentInit)
	if err != nil {
		return txlog.Event{}, err
	}
	if !ok {
		return txlog.Event{}, ErrUnknownTransaction
	}
	return opened, nil
}

func newNonce() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// IsValidation reports whether err rejects the caller's input
func IsValidation(err error) bool {
	var ve *txlog.ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrInvalidUpload) ||
		errors.Is(err, ErrInvalidSchemaAction)
}
