// Package migrations embeds the SQL schema into the binary so the
// tailgate service can migrate without shipping .sql files.
package migrations

import (
	"embed"

	"github.com/nerrad567/tailgate-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
