// Package migrations embeds SQL migration files into the binary.
//
// Importing this package registers the files with the database package,
// so the sqlite registry backend works without the SQL on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/homebus/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
