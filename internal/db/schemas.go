package db

import (
	"context"
	"fmt"
	"regexp"
)

// Schema names are interpolated into DDL, so only a conservative alphabet
// is accepted.
var schemaNameRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,62}$`)

// CreateSchema creates a downstream schema if it does not exist
func (db *DB) CreateSchema(ctx context.Context, name string) error {
	return db.schemaDDL(ctx, "CREATE SCHEMA IF NOT EXISTS %s", name)
}

// DropSchema drops a downstream schema if it exists
func (db *DB) DropSchema(ctx context.Context, name string) error {
	return db.schemaDDL(ctx, "DROP SCHEMA IF EXISTS %s", name)
}

func (db *DB) schemaDDL(ctx context.Context, format, name string) error {
	if !schemaNameRegex.MatchString(name) {
		return fmt.Errorf("invalid schema name %q", name)
	}

	switch db.driver {
	case DriverMySQL, DriverPostgres:
		_, err := db.ExecContext(ctx, fmt.Sprintf(format, name))
		return err
	default:
		return fmt.Errorf("%w: schema management on %s", ErrUnsupported, db.driver)
	}
}
