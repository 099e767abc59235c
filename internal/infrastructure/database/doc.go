// Package database provides the bridge's local SQLite store.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Embedded schema migrations (see package migrations)
//   - Connection pooling and lifecycle management
//
// The journal package writes serial frames and last feed values here so
// the API can answer "what did the module say" after the fact.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//   - Frames are journalled with credentials already redacted
//
// Usage:
//
//	db, err := database.Open(database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// Migrations are additive-only:
//   - New columns must be NULLABLE or have DEFAULT values
//   - Never DROP or RENAME columns in an up migration
//   - Each migration file has both .up.sql and .down.sql
package database
