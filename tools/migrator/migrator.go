// Package migrator applies versioned SQL migrations and tracks them in a
// schema_migrations table
package migrator

import (
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
)

const (
	lockName = "ganymede_migrations"
	lockKey  = 727274

	createTrackingTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`
)

// dialect holds the driver-specific pieces of a migration run
type dialect struct {
	record string
	lock   func(*sql.DB) error
	unlock func(*sql.DB) error
}

func noLock(*sql.DB) error { return nil }

func dialectFor(driver string) dialect {
	switch driver {
	case "postgres", "postgresql":
		return dialect{
			record: "INSERT INTO schema_migrations (version) VALUES ($1)",
			lock: func(db *sql.DB) error {
				_, err := db.Exec("SELECT pg_advisory_lock($1)", lockKey)
				return err
			},
			unlock: func(db *sql.DB) error {
				_, err := db.Exec("SELECT pg_advisory_unlock($1)", lockKey)
				return err
			},
		}
	case "mysql":
		return dialect{
			record: "INSERT INTO schema_migrations (version) VALUES (?)",
			lock: func(db *sql.DB) error {
				var got sql.NullInt64
				if err := db.QueryRow("SELECT GET_LOCK(?, 10)", lockName).Scan(&got); err != nil {
					return err
				}
				if !got.Valid || got.Int64 != 1 {
					return fmt.Errorf("timed out waiting for lock %s", lockName)
				}
				return nil
			},
			unlock: func(db *sql.DB) error {
				_, err := db.Exec("SELECT RELEASE_LOCK(?)", lockName)
				return err
			},
		}
	default:
		// sqlite serializes writers on the database file
		return dialect{
			record: "INSERT INTO schema_migrations (version) VALUES (?)",
			lock:   noLock,
			unlock: noLock,
		}
	}
}

// RunMigrations applies every migration in fsys that is not yet recorded.
// driver is the logical driver name ("sqlite3", "mysql" or "postgres").
func RunMigrations(db *sql.DB, driver string, fsys fs.FS) error {
	if _, err := db.Exec(createTrackingTable); err != nil {
		return fmt.Errorf("failed to create schema table: %w", err)
	}

	d := dialectFor(driver)
	if err := d.lock(db); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = d.unlock(db) }()

	migrations, err := LoadMigrations(fsys)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := GetAppliedMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	done := make(map[int]bool, len(applied))
	latest := 0
	for _, v := range applied {
		done[v] = true
		latest = max(latest, v)
	}

	for _, m := range migrations {
		if done[m.Version] {
			continue
		}
		if m.Version < latest {
			return fmt.Errorf("cannot apply migration %d: version %d is already applied (migrations must be applied in order)", m.Version, latest)
		}
		for _, dep := range m.Dependencies {
			if !done[dep] {
				return fmt.Errorf("migration %d depends on version %d which has not been applied", m.Version, dep)
			}
		}

		if err := apply(db, d, m); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", m.Version, err)
		}
		done[m.Version] = true
		latest = m.Version
	}

	return nil
}

// GetCurrentVersion returns the highest applied version, or 0 on a fresh
// database
func GetCurrentVersion(db *sql.DB) (int, error) {
	applied, err := GetAppliedMigrations(db)
	if err != nil {
		return 0, err
	}
	if len(applied) == 0 {
		return 0, nil
	}
	return applied[len(applied)-1], nil
}

// GetAppliedMigrations returns the applied versions in ascending order
func GetAppliedMigrations(db *sql.DB) ([]int, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if isMissingTable(err) {
		return []int{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func isMissingTable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{"no such table", "doesn't exist", "does not exist"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// apply runs a migration and records it, inside a transaction unless the
// migration opted out
func apply(db *sql.DB, d dialect, m Migration) error {
	if m.NoTransaction {
		return execute(db, d, m)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := execute(tx, d, m); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func execute(x execer, d dialect, m Migration) error {
	if _, err := x.Exec(m.UpSQL); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	if _, err := x.Exec(d.record, m.Version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return nil
}
