// Package migrations embeds the registration cache schema into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/geeny-gateway/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
