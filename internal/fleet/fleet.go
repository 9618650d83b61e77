// Package fleet manages the registry of agents and their geo assignments
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeffstoner/ganymede/internal/db"
	"github.com/jeffstoner/ganymede/internal/txlog"
)

// Standard errors
var (
	ErrAgentNotFound   = errors.New("fleet: agent not found")
	ErrGeoNotFound     = errors.New("fleet: geo not found")
	ErrReleaseNotFound = errors.New("fleet: release not found")
)

// Store is the slice of the database the fleet manager uses
type Store interface {
	CreateAgent(ctx context.Context, agent *db.Agent) error
	GetAgentSummary(ctx context.Context, uid string) (*db.AgentSummary, error)
	GetAgentByUID(ctx context.Context, uid string) (*db.Agent, error)
	ListAssignedAgents(ctx context.Context) ([]db.AgentSummary, error)
	CountAgents(ctx context.Context) (int, error)
	UpdateAgent(ctx context.Context, uid string, name *string, enabled *bool) error
	DeleteAgent(ctx context.Context, uid string) error
	GetGeoConfigByShortName(ctx context.Context, shortName string) (*db.GeoConfig, error)
	GetGeoReleaseByName(ctx context.Context, name string) (*db.GeoRelease, error)
	UpsertAssignment(ctx context.Context, agentID, geoConfigID, geoReleaseID int64) error
	GetAssignmentProfile(ctx context.Context, uid string) (*db.AssignmentProfile, error)
	InitEventsForGeo(ctx context.Context, geoID int64, start, end *time.Time) ([]db.LogEvent, error)
}

// Agent is the public view of a registered agent
type Agent struct {
	UID     string
	Name    string
	Enabled bool
	Active  bool
	Geo     string // empty when unassigned
}

// Transaction is one entry of an agent's transaction log
type Transaction struct {
	TransactionID string
	Timestamp     time.Time
}

// Manager implements the agent registry operations
type Manager struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

func NewManager(store Store, logger *slog.Logger) *Manager {
	return &Manager{store: store, now: time.Now, logger: logger}
}

// WithClock replaces the clock used to fill missing log filter parts
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// CountAgents returns the number of registered agents
func (m *Manager) CountAgents(ctx context.Context) (int, error) {
	return m.store.CountAgents(ctx)
}

// ListAgents returns every assigned agent, inactive and disabled first
func (m *Manager) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := m.store.ListAssignedAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}

	agents := make([]Agent, 0, len(rows))
	for _, row := range rows {
		agents = append(agents, fromSummary(row))
	}
	return agents, nil
}

// CreateAgent registers a new active agent and returns its UID
func (m *Manager) CreateAgent(ctx context.Context, name string, enabled bool) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", &txlog.ValidationError{Field: "name", Reason: "name must not be empty"}
	}

	agent := &db.Agent{
		UID:     uuid.NewString(),
		Name:    name,
		Enabled: enabled,
		Active:  true,
	}

	if err := m.store.CreateAgent(ctx, agent); err != nil {
		return "", fmt.Errorf("failed to create agent: %w", err)
	}

	m.logger.Info("agent created", "agent_id", agent.UID, "enabled", enabled)
	return agent.UID, nil
}

// GetAgent returns an agent with the short name of its assigned geo
func (m *Manager) GetAgent(ctx context.Context, uid string) (*Agent, error) {
	summary, err := m.store.GetAgentSummary(ctx, uid)
	if db.IsNotFound(err) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	agent := fromSummary(*summary)
	return &agent, nil
}

// UpdateAgent changes an agent's name, enabled flag or both
func (m *Manager) UpdateAgent(ctx context.Context, uid string, name *string, enabled *bool) error {
	if name == nil && enabled == nil {
		return &txlog.ValidationError{Field: "parameters", Reason: "name or enabled is required"}
	}

	err := m.store.UpdateAgent(ctx, uid, name, enabled)
	if db.IsNotFound(err) {
		return ErrAgentNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}

	m.logger.Info("agent updated", "agent_id", uid)
	return nil
}

// DeleteAgent removes an agent and its assignment
func (m *Manager) DeleteAgent(ctx context.Context, uid string) error {
	err := m.store.DeleteAgent(ctx, uid)
	if db.IsNotFound(err) {
		return ErrAgentNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}

	m.logger.Info("agent deleted", "agent_id", uid)
	return nil
}

// AssignAgent binds an agent to a geo and release, replacing any existing
// assignment
func (m *Manager) AssignAgent(ctx context.Context, uid, geoShortName, release string) error {
	if geoShortName == "" || release == "" {
		return &txlog.ValidationError{Field: "parameters", Reason: "geo and release are required"}
	}

	agent, err := m.store.GetAgentByUID(ctx, uid)
	if db.IsNotFound(err) {
		return ErrAgentNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get agent: %w", err)
	}

	geo, err := m.store.GetGeoConfigByShortName(ctx, geoShortName)
	if db.IsNotFound(err) {
		return ErrGeoNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get geo config: %w", err)
	}

	rel, err := m.store.GetGeoReleaseByName(ctx, release)
	if db.IsNotFound(err) {
		return ErrReleaseNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get geo release: %w", err)
	}

	err = m.store.UpsertAssignment(ctx, agent.ID, geo.ID, rel.ID)
	if db.IsForeignKey(err) {
		// deleted between lookup and assignment
		return ErrAgentNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to assign agent: %w", err)
	}

	m.logger.Info("agent assigned",
		"agent_id", uid,
		"geo", geoShortName,
		"release", release)
	return nil
}

// AgentLog lists the transactions an assigned agent has opened, oldest
// first, optionally narrowed to one UTC day
func (m *Manager) AgentLog(ctx context.Context, uid string, filter LogFilter) ([]Transaction, error) {
	profile, err := m.store.GetAssignmentProfile(ctx, uid)
	if db.IsNotFound(err) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read agent assignment: %w", err)
	}

	var start, end *time.Time
	if w, ok := filter.Window(m.now()); ok {
		start, end = &w.Start, &w.End
	}

	events, err := m.store.InitEventsForGeo(ctx, profile.GeoID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent log: %w", err)
	}

	transactions := make([]Transaction, 0, len(events))
	for _, e := range events {
		transactions = append(transactions, Transaction{
			TransactionID: e.TransactionID,
			Timestamp:     e.Timestamp,
		})
	}
	return transactions, nil
}

func fromSummary(s db.AgentSummary) Agent {
	return Agent{
		UID:     s.UID,
		Name:    s.Name,
		Enabled: s.Enabled,
		Active:  s.Active,
		Geo:     s.GeoShortName,
	}
}
