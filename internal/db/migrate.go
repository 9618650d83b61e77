package db

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/jeffstoner/ganymede/migrations"
	"github.com/jeffstoner/ganymede/tools/migrator"
)

// Migrate applies pending schema migrations and returns the resulting
// version. An empty dir selects the migrations embedded for the driver.
func (db *DB) Migrate(dir string) (int, error) {
	var fsys fs.FS
	if dir != "" {
		fsys = os.DirFS(dir)
	} else {
		embedded, err := migrations.ForDriver(db.driver)
		if err != nil {
			return 0, err
		}
		fsys = embedded
	}

	if err := migrator.RunMigrations(db.DB, db.driver, fsys); err != nil {
		return 0, fmt.Errorf("failed to run migrations: %w", err)
	}

	return migrator.GetCurrentVersion(db.DB)
}
