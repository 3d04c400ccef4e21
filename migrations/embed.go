// Package migrations embeds the SQL schema into the binary so the bridge can
// create and upgrade its object database without files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/bsblan-bridge/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
