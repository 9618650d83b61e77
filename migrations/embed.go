// Package migrations embeds the schema migrations for every supported driver
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed sqlite3/*.sql mysql/*.sql postgres/*.sql
var files embed.FS

// ForDriver returns the migration set for a logical database driver
func ForDriver(driver string) (fs.FS, error) {
	switch driver {
	case "sqlite3", "mysql", "postgres":
		return fs.Sub(files, driver)
	default:
		return nil, fmt.Errorf("no migrations for driver %q", driver)
	}
}
