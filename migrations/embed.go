// Package migrations embeds the SQL schema so the binaries can migrate a
// database without the files present on disk.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed postgres/*.sql sqlite/*.sql seeds/*.sql
var files embed.FS

// For returns the migration files for a database/sql driver name.
func For(driver string) (fs.FS, error) {
	switch driver {
	case "pgx", "postgres":
		return fs.Sub(files, "postgres")
	case "sqlite3", "sqlite":
		return fs.Sub(files, "sqlite")
	default:
		return nil, fmt.Errorf("migrations: unsupported driver %q", driver)
	}
}

// Seeds returns the seed files shared by every driver.
func Seeds() fs.FS {
	sub, err := fs.Sub(files, "seeds")
	if err != nil {
		panic(err)
	}
	return sub
}
