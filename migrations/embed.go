// Package migrations embeds the schema for each supported driver.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed postgres/*.sql sqlite/*.sql
var Files embed.FS

// Source returns the migration files for a database driver
func Source(driver string) (fs.FS, error) {
	switch driver {
	case "postgres", "sqlite":
		return fs.Sub(Files, driver)
	default:
		return nil, fmt.Errorf("no migrations for driver %q", driver)
	}
}
