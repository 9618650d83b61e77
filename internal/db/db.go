package db

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"
)

// DB is a connection pool that knows which SQL dialect it speaks
type DB struct {
	*sql.DB
	driver string
}

// Tx is a transaction opened from a DB; it rebinds placeholders the same way
type Tx struct {
	*sql.Tx
	db *DB
}

// Config holds database connection configuration
type Config struct {
	Driver          string        `toml:"driver"`
	DSN             string        `toml:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `toml:"conn_max_idle_time"`
	MigrationsDir   string        `toml:"migrations_dir"`
	SkipMigrations  bool          `toml:"skip_migrations"`
}

// Supported logical drivers
const (
	DriverSQLite   = "sqlite3"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Standard errors
var (
	ErrNotFound    = errors.New("db: not found")
	ErrDuplicate   = errors.New("db: duplicate key")
	ErrForeignKey  = errors.New("db: foreign key violation")
	ErrUnsupported = errors.New("db: operation not supported by driver")
)

// registeredName maps a logical driver to the name registered with database/sql
var registeredName = map[string]string{
	DriverSQLite:   "sqlite3",
	DriverMySQL:    "mysql",
	DriverPostgres: "pgx",
}

// sessionSetup runs once after connecting
var sessionSetup = map[string][]string{
	DriverSQLite: {"PRAGMA foreign_keys = ON"},
}

// Open connects with default pool settings
func Open(driver, dsn string) (*DB, error) {
	return OpenWithConfig(Config{Driver: driver, DSN: dsn})
}

// OpenWithConfig connects, verifies the connection and applies any pool
// limits set in config
func OpenWithConfig(config Config) (*DB, error) {
	name, ok := registeredName[config.Driver]
	if !ok {
		name = config.Driver
	}

	dsn, err := normalizeDSN(config.Driver, config.DSN)
	if err != nil {
		return nil, err
	}

	pool, err := sql.Open(name, dsn)
	if err != nil {
		return nil, err
	}

	if config.MaxOpenConns > 0 {
		pool.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		pool.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		pool.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime > 0 {
		pool.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	if err := pool.Ping(); err != nil {
		pool.Close()
		return nil, err
	}
	for _, stmt := range sessionSetup[config.Driver] {
		if _, err := pool.Exec(stmt); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &DB{DB: pool, driver: config.Driver}, nil
}

// Driver returns the logical database driver name
func (db *DB) Driver() string {
	return db.driver
}

// rebind turns ? placeholders into $n for postgres. Queries in this
// package never use '?' for anything else.
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres || !strings.ContainsRune(query, '?') {
		return query
	}

	parts := strings.Split(query, "?")
	var b strings.Builder
	b.Grow(len(query) + 2*len(parts))
	b.WriteString(parts[0])
	for i, part := range parts[1:] {
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(part)
	}
	return b.String()
}

func (db *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.ExecContext(ctx, db.rebind(query), args...)
}

func (db *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.QueryContext(ctx, db.rebind(query), args...)
}

func (db *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.QueryRowContext(ctx, db.rebind(query), args...)
}

// insertReturningID runs an INSERT and returns the new row's id. Postgres
// has no LastInsertId, so it gets a RETURNING clause instead.
func (db *DB) insertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	if db.driver == DriverPostgres {
		var id int64
		err := db.queryRow(ctx, query+" RETURNING id", args...).Scan(&id)
		return id, translate(err)
	}

	result, err := db.exec(ctx, query, args...)
	if err != nil {
		return 0, translate(err)
	}
	return result.LastInsertId()
}

// Begin starts a new transaction
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx, db: db}, nil
}

// WithTransaction runs fn in a transaction, committing when it returns nil
// and rolling back when it fails or panics
func (db *DB) WithTransaction(ctx context.Context, fn func(*Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (tx *Tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := tx.ExecContext(ctx, tx.db.rebind(query), args...)
	return result, translate(err)
}

func (tx *Tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.QueryRowContext(ctx, tx.db.rebind(query), args...)
}

// IsNotFound reports whether err means the row does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}

// IsDuplicate reports whether err is a unique key violation
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate) || isUniqueViolation(err)
}

// IsForeignKey reports whether err is a foreign key violation
func IsForeignKey(err error) bool {
	return errors.Is(err, ErrForeignKey) || isForeignKeyViolation(err)
}

// utc normalises a timestamp to UTC at second granularity so stored values
// compare consistently as strings on drivers without a native time type.
func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
