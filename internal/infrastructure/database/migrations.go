package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"time"
)

// schemaTable records which migrations have been applied.
const schemaTable = "obloq_schema"

// ErrNoSchema is returned when migrations run before any schema was
// registered with RegisterSchema.
var ErrNoSchema = errors.New("database: no schema registered")

// migrationFile matches "YYYYMMDD_HHMMSS_name.up.sql" and its ".down.sql"
// counterpart. Other files in the schema directory are ignored.
var migrationFile = regexp.MustCompile(`^(\d{8}_\d{6})_([a-z0-9_]+)\.(up|down)\.sql$`)

// schema is the migration source registered by package migrations.
var schema fs.FS

// RegisterSchema sets the filesystem holding the migration files. Package
// migrations calls it from init with its embedded SQL; tests may point it
// at a directory on disk.
func RegisterSchema(fsys fs.FS) {
	schema = fsys
}

// Migration is one schema step loaded from a file pair.
type Migration struct {
	// Version orders migrations, e.g. "20261018_120000".
	Version string

	// Name is the file name part after the version, e.g. "frames".
	Name string

	UpSQL   string
	DownSQL string
}

// MigrationState is one line of "obloqd migrate status".
type MigrationState struct {
	Version   string
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// Migrate applies pending migrations oldest first and returns how many ran.
//
// Each migration commits on its own, so a failure leaves the earlier ones
// in place and the next call resumes at the failed step.
func (db *DB) Migrate(ctx context.Context) (int, error) {
	migrations, applied, err := db.loadState(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range migrations {
		if _, done := applied[m.Version]; done {
			continue
		}
		err := db.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO "+schemaTable+" (version, name, applied_at) VALUES (?, ?, ?)",
				m.Version, m.Name, time.Now().UTC().Format(time.RFC3339Nano))
			return err
		})
		if err != nil {
			return count, fmt.Errorf("migration %s_%s: %w", m.Version, m.Name, err)
		}
		count++
	}
	return count, nil
}

// MigrateDown reverts the most recently applied migration and returns its
// version, or "" when nothing is applied.
func (db *DB) MigrateDown(ctx context.Context) (string, error) {
	migrations, applied, err := db.loadState(ctx)
	if err != nil {
		return "", err
	}

	if len(applied) == 0 {
		return "", nil
	}
	newest := ""
	for version := range applied {
		if version > newest {
			newest = version
		}
	}

	var latest *Migration
	for i := range migrations {
		if migrations[i].Version == newest {
			latest = &migrations[i]
			break
		}
	}
	if latest == nil {
		return "", fmt.Errorf("applied migration %s_%s is not in the registered schema", newest, applied[newest].Name)
	}
	if latest.DownSQL == "" {
		return "", fmt.Errorf("migration %s_%s has no down file", latest.Version, latest.Name)
	}

	err = db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, latest.DownSQL); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM "+schemaTable+" WHERE version = ?", latest.Version)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("reverting %s_%s: %w", latest.Version, latest.Name, err)
	}
	return latest.Version, nil
}

// MigrationStatus lists every known migration in version order with its
// applied time. Rows recorded in the database whose files are gone are
// listed too, so a downgraded binary still shows them.
func (db *DB) MigrationStatus(ctx context.Context) ([]MigrationState, error) {
	migrations, applied, err := db.loadState(ctx)
	if err != nil {
		return nil, err
	}

	states := make([]MigrationState, 0, len(migrations))
	for _, m := range migrations {
		state := MigrationState{Version: m.Version, Name: m.Name}
		if rec, ok := applied[m.Version]; ok {
			state.Applied = true
			state.AppliedAt = rec.AppliedAt
			delete(applied, m.Version)
		}
		states = append(states, state)
	}
	for _, rec := range applied {
		states = append(states, rec)
	}

	sort.Slice(states, func(i, j int) bool { return states[i].Version < states[j].Version })
	return states, nil
}

// loadState reads the registered files and the applied rows.
func (db *DB) loadState(ctx context.Context) ([]Migration, map[string]MigrationState, error) {
	migrations, err := loadMigrations(schema)
	if err != nil {
		return nil, nil, err
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+schemaTable+` (
		version    TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return nil, nil, fmt.Errorf("creating %s: %w", schemaTable, err)
	}

	rows, err := db.DB.QueryContext(ctx, "SELECT version, name, applied_at FROM "+schemaTable)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", schemaTable, err)
	}
	defer rows.Close()

	applied := make(map[string]MigrationState)
	for rows.Next() {
		var state MigrationState
		var appliedAt string
		if err := rows.Scan(&state.Version, &state.Name, &appliedAt); err != nil {
			return nil, nil, fmt.Errorf("scanning %s: %w", schemaTable, err)
		}
		state.Applied = true
		state.AppliedAt, _ = time.Parse(time.RFC3339Nano, appliedAt) //nolint:errcheck // Written by Migrate
		applied[state.Version] = state
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return migrations, applied, nil
}

// inTx runs fn in a transaction and commits when it returns nil.
func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// loadMigrations pairs the up and down files found at the root of fsys.
// A down file without its up file is an error.
func loadMigrations(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, ErrNoSchema
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading schema: %w", err)
	}

	byVersion := make(map[string]*Migration)
	downOnly := make(map[string]string)
	for _, entry := range entries {
		match := migrationFile.FindStringSubmatch(entry.Name())
		if entry.IsDir() || match == nil {
			continue
		}
		version, name, direction := match[1], match[2], match[3]

		body, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version}
			byVersion[version] = m
		}
		if direction == "up" {
			m.Name = name
			m.UpSQL = string(body)
			delete(downOnly, version)
		} else {
			m.DownSQL = string(body)
			if m.UpSQL == "" {
				downOnly[version] = entry.Name()
			}
		}
	}

	if len(downOnly) > 0 {
		orphans := make([]string, 0, len(downOnly))
		for _, file := range downOnly {
			orphans = append(orphans, file)
		}
		sort.Strings(orphans)
		return nil, fmt.Errorf("%s has no matching up file", orphans[0])
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}
