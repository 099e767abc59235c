// Package migrations embeds the SQL schema for the bridge's local database.
//
// Importing this package registers the files with package database, so
// db.Migrate works without the SQL files present on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/obloq-bridge/internal/infrastructure/database"
)

// Files holds the schema files in "YYYYMMDD_HHMMSS_name.{up,down}.sql" form.
//
//go:embed *.sql
var Files embed.FS

func init() {
	database.RegisterSchema(Files)
}
