package reportflow

import (
	"embed"
	"io/fs"
)

//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the embedded migration tree rooted at the module
// root, with postgres files under data/sql/migrations and sqlite files under
// data/sql/migrations/sqlite.
func GetMigrationsFS() fs.FS {
	return migrationsFS
}
