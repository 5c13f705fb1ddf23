// Package migrations holds the bridge schema as embedded SQL. Importing it
// for side effects hands the files to the database package, so the binary
// needs nothing on disk to migrate.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-enocean/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.MigrationsFS = files
	database.MigrationsDir = "."
}
