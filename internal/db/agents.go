package db

import (
	"context"
	"database/sql"
)

// =============================================================================
// Agent Operations
// =============================================================================

// CreateAgent creates a new agent and sets its ID
func (db *DB) CreateAgent(ctx context.Context, agent *Agent) error {
	query := `INSERT INTO agent (uid, name, enabled, active) VALUES (?, ?, ?, ?)`

	id, err := db.insertReturningID(ctx, query, agent.UID, agent.Name, agent.Enabled, agent.Active)
	if err != nil {
		return err
	}

	agent.ID = id
	return nil
}

// GetAgentByUID retrieves an agent by its public UID
func (db *DB) GetAgentByUID(ctx context.Context, uid string) (*Agent, error) {
	agent := &Agent{}

	query := `SELECT id, uid, name, enabled, active FROM agent WHERE uid = ?`

	err := db.queryRow(ctx, query, uid).Scan(
		&agent.ID,
		&agent.UID,
		&agent.Name,
		&agent.Enabled,
		&agent.Active,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return agent, nil
}

// GetAgentSummary retrieves an agent and the short name of its assigned geo
func (db *DB) GetAgentSummary(ctx context.Context, uid string) (*AgentSummary, error) {
	agent, err := db.GetAgentByUID(ctx, uid)
	if err != nil {
		return nil, err
	}

	summary := &AgentSummary{Agent: *agent}

	query := `
		SELECT gc.short_name
		FROM geo_config gc, assignment x
		WHERE x.agent_id = ? AND gc.id = x.geo_config_id
	`

	err = db.queryRow(ctx, query, agent.ID).Scan(&summary.GeoShortName)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	return summary, nil
}

// ListAssignedAgents retrieves all agents that have a geo assignment
func (db *DB) ListAssignedAgents(ctx context.Context) ([]AgentSummary, error) {
	query := `
		SELECT a.id, a.uid, a.name, a.enabled, a.active, g.short_name
		FROM agent a, geo_config g, assignment x
		WHERE x.agent_id = a.id AND x.geo_config_id = g.id
		ORDER BY a.active, a.enabled, a.id
	`

	rows, err := db.query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []AgentSummary
	for rows.Next() {
		var s AgentSummary
		err := rows.Scan(
			&s.ID,
			&s.UID,
			&s.Name,
			&s.Enabled,
			&s.Active,
			&s.GeoShortName,
		)
		if err != nil {
			return nil, err
		}
		agents = append(agents, s)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	// Return empty slice instead of nil
	if agents == nil {
		agents = []AgentSummary{}
	}

	return agents, nil
}

// CountAgents returns the number of registered agents
func (db *DB) CountAgents(ctx context.Context) (int, error) {
	var n int
	err := db.queryRow(ctx, `SELECT COUNT(*) FROM agent`).Scan(&n)
	return n, err
}

// UpdateAgent changes the name and/or enabled flag of an agent.
// Nil fields are left untouched.
func (db *DB) UpdateAgent(ctx context.Context, uid string, name *string, enabled *bool) error {
	return db.WithTransaction(ctx, func(tx *Tx) error {
		var id int64
		err := tx.queryRow(ctx, `SELECT id FROM agent WHERE uid = ?`, uid).Scan(&id)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if name != nil {
			if _, err := tx.exec(ctx, `UPDATE agent SET name = ? WHERE id = ?`, *name, id); err != nil {
				return err
			}
		}

		if enabled != nil {
			if _, err := tx.exec(ctx, `UPDATE agent SET enabled = ? WHERE id = ?`, *enabled, id); err != nil {
				return err
			}
		}

		return nil
	})
}

// DeleteAgent removes an agent together with its assignment
func (db *DB) DeleteAgent(ctx context.Context, uid string) error {
	return db.WithTransaction(ctx, func(tx *Tx) error {
		var id int64
		err := tx.queryRow(ctx, `SELECT id FROM agent WHERE uid = ?`, uid).Scan(&id)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if _, err := tx.exec(ctx, `DELETE FROM assignment WHERE agent_id = ?`, id); err != nil {
			return err
		}

		_, err = tx.exec(ctx, `DELETE FROM agent WHERE id = ?`, id)
		return err
	})
}

// =============================================================================
// Geo Config / Release Operations
// =============================================================================

// CreateGeoConfig creates a geo config and sets its ID
func (db *DB) CreateGeoConfig(ctx context.Context, geo *GeoConfig) error {
	query := `
		INSERT INTO geo_config (short_name, db_host, db_schema, db_user, db_pass)
		VALUES (?, ?, ?, ?, ?)
	`

	id, err := db.insertReturningID(ctx, query, geo.ShortName, geo.DBHost, geo.DBSchema, geo.DBUser, geo.DBPass)
	if err != nil {
		return err
	}

	geo.ID = id
	return nil
}

// GetGeoConfigByShortName retrieves a geo config by its short name
func (db *DB) GetGeoConfigByShortName(ctx context.Context, shortName string) (*GeoConfig, error) {
	geo := &GeoConfig{}

	query := `
		SELECT id, short_name, db_host, db_schema, db_user, db_pass
		FROM geo_config
		WHERE short_name = ?
	`

	err := db.queryRow(ctx, query, shortName).Scan(
		&geo.ID,
		&geo.ShortName,
		&geo.DBHost,
		&geo.DBSchema,
		&geo.DBUser,
		&geo.DBPass,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return geo, nil
}

// CreateGeoRelease creates a geo release and sets its ID
func (db *DB) CreateGeoRelease(ctx context.Context, release *GeoRelease) error {
	query := `INSERT INTO geo_release (cc_release, db_tables) VALUES (?, ?)`

	id, err := db.insertReturningID(ctx, query, release.Release, release.DBTables)
	if err != nil {
		return err
	}

	release.ID = id
	return nil
}

// GetGeoReleaseByName retrieves a release by its release identifier
func (db *DB) GetGeoReleaseByName(ctx context.Context, name string) (*GeoRelease, error) {
	release := &GeoRelease{}

	query := `SELECT id, cc_release, db_tables FROM geo_release WHERE cc_release = ?`

	err := db.queryRow(ctx, query, name).Scan(&release.ID, &release.Release, &release.DBTables)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return release, nil
}

// =============================================================================
// Assignment Operations
// =============================================================================

// UpsertAssignment assigns an agent to a geo config and release. An existing
// assignment is overwritten; an agent never has more than one.
func (db *DB) UpsertAssignment(ctx context.Context, agentID, geoConfigID, geoReleaseID int64) error {
	return db.WithTransaction(ctx, func(tx *Tx) error {
		var id int64
		err := tx.queryRow(ctx, `SELECT id FROM assignment WHERE agent_id = ?`, agentID).Scan(&id)

		switch {
		case err == sql.ErrNoRows:
			_, err = tx.exec(ctx,
				`INSERT INTO assignment (agent_id, geo_config_id, geo_release_id) VALUES (?, ?, ?)`,
				agentID, geoConfigID, geoReleaseID)
			return err
		case err != nil:
			return err
		}

		_, err = tx.exec(ctx,
			`UPDATE assignment SET geo_config_id = ?, geo_release_id = ? WHERE id = ?`,
			geoConfigID, geoReleaseID, id)
		return err
	})
}

// GetAssignment retrieves the assignment of an agent
func (db *DB) GetAssignment(ctx context.Context, agentID int64) (*Assignment, error) {
	a := &Assignment{}

	query := `SELECT id, agent_id, geo_config_id, geo_release_id FROM assignment WHERE agent_id = ?`

	err := db.queryRow(ctx, query, agentID).Scan(&a.ID, &a.AgentID, &a.GeoConfigID, &a.GeoReleaseID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return a, nil
}

// GetAssignmentProfile joins an agent's assignment with its geo config and
// release. Returns ErrNotFound when the agent is unknown or unassigned.
func (db *DB) GetAssignmentProfile(ctx context.Context, uid string) (*AssignmentProfile, error) {
	p := &AssignmentProfile{}

	query := `
		SELECT a.id, gc.id, gc.short_name, gc.db_host, gc.db_schema, gc.db_user, gc.db_pass, gr.db_tables, gr.id
		FROM assignment x, agent a, geo_release gr, geo_config gc
		WHERE x.agent_id = a.id AND x.geo_release_id = gr.id AND x.geo_config_id = gc.id AND a.uid = ?
	`

	err := db.queryRow(ctx, query, uid).Scan(
		&p.AgentID,
		&p.GeoID,
		&p.GeoName,
		&p.DBHost,
		&p.DBSchema,
		&p.DBUser,
		&p.DBPass,
		&p.DBTables,
		&p.ReleaseID,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return p, nil
}

// ActiveGeoIDs returns the geo config of every assignment whose agent is
// both enabled and active. A geo with several such agents appears once per
// agent; callers collapse.
func (db *DB) ActiveGeoIDs(ctx context.Context) ([]int64, error) {
	query := `
		SELECT x.geo_config_id
		FROM assignment x, agent a
		WHERE x.agent_id = a.id AND a.enabled = ? AND a.active = ?
	`

	rows, err := db.query(ctx, query, true, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
