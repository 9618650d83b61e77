package db

import (
	"context"
	"time"
)

// The log table is append-only: this file is the only place that writes to
// it and it only ever INSERTs.

const logColumns = `id, transid, geo, tstamp, stage, status, message, nonce`

// AppendEvent inserts a new event and sets its ID
func (db *DB) AppendEvent(ctx context.Context, event *LogEvent) error {
	event.Timestamp = utc(event.Timestamp)

	query := `
		INSERT INTO log (transid, geo, tstamp, stage, status, message, nonce)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	id, err := db.insertReturningID(ctx, query,
		event.TransactionID,
		event.GeoID,
		event.Timestamp,
		event.Stage,
		event.Status,
		event.Message,
		event.Nonce,
	)
	if err != nil {
		return err
	}

	event.ID = id
	return nil
}

// TransactionIDs returns the transaction ID of every event in [start, end]
// recording the given stage and status. IDs repeat if the stage was logged
// more than once; callers collapse them.
func (db *DB) TransactionIDs(ctx context.Context, start, end time.Time, stage, status string) ([]string, error) {
	query := `
		SELECT transid
		FROM log
		WHERE tstamp >= ? AND tstamp <= ? AND stage = ? AND status = ?
	`

	rows, err := db.query(ctx, query, utc(start), utc(end), stage, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return ids, nil
}

// HasStage reports whether any event exists for the transaction and stage
func (db *DB) HasStage(ctx context.Context, transactionID, stage string) (bool, error) {
	query := `SELECT COUNT(*) FROM log WHERE transid = ? AND stage = ?`

	var n int
	if err := db.queryRow(ctx, query, transactionID, stage).Scan(&n); err != nil {
		return false, err
	}

	return n > 0, nil
}

// EventsForStage returns every event of one transaction for one stage, in
// no particular order
func (db *DB) EventsForStage(ctx context.Context, transactionID, stage string) ([]LogEvent, error) {
	query := `SELECT ` + logColumns + ` FROM log WHERE transid = ? AND stage = ?`

	return db.scanEvents(ctx, query, transactionID, stage)
}

// EventsForTransaction returns every event of a transaction ordered by
// timestamp, then by log sequence
func (db *DB) EventsForTransaction(ctx context.Context, transactionID string) ([]LogEvent, error) {
	query := `SELECT ` + logColumns + ` FROM log WHERE transid = ? ORDER BY tstamp, id`

	return db.scanEvents(ctx, query, transactionID)
}

// InitEventsForGeo returns the AGENT_INIT events of a geo, optionally
// restricted to [start, end]
func (db *DB) InitEventsForGeo(ctx context.Context, geoID int64, start, end *time.Time) ([]LogEvent, error) {
	if start != nil && end != nil {
		query := `
			SELECT ` + logColumns + `
			FROM log
			WHERE geo = ? AND stage = 'AGENT_INIT' AND tstamp >= ? AND tstamp <= ?
			ORDER BY tstamp, id
		`
		return db.scanEvents(ctx, query, geoID, utc(*start), utc(*end))
	}

	query := `SELECT ` + logColumns + ` FROM log WHERE geo = ? AND stage = 'AGENT_INIT' ORDER BY tstamp, id`
	return db.scanEvents(ctx, query, geoID)
}

func (db *DB) scanEvents(ctx context.Context, query string, args ...any) ([]LogEvent, error) {
	rows, err := db.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []LogEvent
	for rows.Next() {
		var e LogEvent
		err := rows.Scan(
			&e.ID,
			&e.TransactionID,
			&e.GeoID,
			&e.Timestamp,
			&e.Stage,
			&e.Status,
			&e.Message,
			&e.Nonce,
		)
		if err != nil {
			return nil, err
		}
		e.Timestamp = e.Timestamp.UTC()
		events = append(events, e)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	// Return empty slice instead of nil
	if events == nil {
		events = []LogEvent{}
	}

	return events, nil
}
