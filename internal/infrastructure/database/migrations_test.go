package database

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"
)

// repoSchema is the bridge's own migrations directory.
var repoSchema = os.DirFS(filepath.Join("..", "..", "..", "migrations"))

const (
	framesVersion     = "20261018_120000"
	feedValuesVersion = "20261018_130000"
)

// useSchema registers fsys for the duration of the test.
func useSchema(t *testing.T, fsys fs.FS) {
	t.Helper()
	orig := schema
	RegisterSchema(fsys)
	t.Cleanup(func() { RegisterSchema(orig) })
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return count == 1
}

// =============================================================================
// Bridge schema
// =============================================================================

func TestMigrate_BridgeSchema(t *testing.T) {
	useSchema(t, repoSchema)
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := db.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Migrate() applied %d, want 2", n)
	}
	for _, table := range []string{"frames", "feed_values"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s not created", table)
		}
	}

	// The journal's insert shape fits the frames table.
	if _, err := db.ExecContext(ctx,
		"INSERT INTO frames (session_id, direction, kind, line, recorded_at) VALUES (?, ?, ?, ?, ?)",
		"s1", "in", "status", "|4|1|1|1|", time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		t.Errorf("insert into frames: %v", err)
	}

	n, err = db.Migrate(ctx)
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if n != 0 {
		t.Errorf("second Migrate() applied %d, want 0", n)
	}
}

func TestMigrationStatus(t *testing.T) {
	useSchema(t, repoSchema)
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	states, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("MigrationStatus() = %d entries, want 2", len(states))
	}
	for _, s := range states {
		if s.Applied {
			t.Errorf("%s applied before Migrate", s.Version)
		}
	}

	before := time.Now().UTC().Add(-time.Second)
	if _, err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if _, err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	states, err = db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}

	want := []struct {
		version string
		name    string
		applied bool
	}{
		{framesVersion, "frames", true},
		{feedValuesVersion, "feed_values", false},
	}
	for i, w := range want {
		got := states[i]
		if got.Version != w.version || got.Name != w.name || got.Applied != w.applied {
			t.Errorf("states[%d] = %+v, want version %s name %s applied %v", i, got, w.version, w.name, w.applied)
		}
	}
	if states[0].AppliedAt.Before(before) {
		t.Errorf("AppliedAt = %v, want after %v", states[0].AppliedAt, before)
	}
}

func TestMigrateDown(t *testing.T) {
	useSchema(t, repoSchema)
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	if _, err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for _, want := range []string{feedValuesVersion, framesVersion, ""} {
		got, err := db.MigrateDown(ctx)
		if err != nil {
			t.Fatalf("MigrateDown() error = %v", err)
		}
		if got != want {
			t.Errorf("MigrateDown() = %q, want %q", got, want)
		}
	}

	for _, table := range []string{"frames", "feed_values"} {
		if tableExists(t, db, table) {
			t.Errorf("table %s still present after rollback", table)
		}
	}
}

// =============================================================================
// Failure handling
// =============================================================================

func TestMigrate_NoSchema(t *testing.T) {
	useSchema(t, nil)
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	if _, err := db.Migrate(context.Background()); !errors.Is(err, ErrNoSchema) {
		t.Errorf("Migrate() error = %v, want ErrNoSchema", err)
	}
}

func TestMigrate_FailureKeepsEarlierSteps(t *testing.T) {
	useSchema(t, fstest.MapFS{
		"20261001_000000_links.up.sql":   {Data: []byte("CREATE TABLE links (id INTEGER);")},
		"20261001_000000_links.down.sql": {Data: []byte("DROP TABLE links;")},
		"20261002_000000_broken.up.sql":  {Data: []byte("CREATE TABLE broken (;")},
	})
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	n, err := db.Migrate(ctx)
	if err == nil {
		t.Fatal("Migrate() error = nil, want SQL error")
	}
	if n != 1 {
		t.Errorf("Migrate() applied %d before failing, want 1", n)
	}
	if !tableExists(t, db, "links") {
		t.Error("links table rolled back, want committed")
	}

	states, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(states) != 2 || !states[0].Applied || states[1].Applied {
		t.Errorf("MigrationStatus() = %+v, want links applied and broken pending", states)
	}
}

func TestMigrateDown_NoDownFile(t *testing.T) {
	useSchema(t, fstest.MapFS{
		"20261001_000000_links.up.sql": {Data: []byte("CREATE TABLE links (id INTEGER);")},
	})
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	if _, err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if _, err := db.MigrateDown(ctx); err == nil {
		t.Error("MigrateDown() error = nil, want missing down file")
	}
	if !tableExists(t, db, "links") {
		t.Error("links table dropped without a down file")
	}
}

func TestMigrateDown_AppliedFileMissing(t *testing.T) {
	useSchema(t, repoSchema)
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	if _, err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// An older binary only knows the first migration.
	RegisterSchema(fstest.MapFS{
		"20261018_120000_frames.up.sql":   {Data: []byte("SELECT 1;")},
		"20261018_120000_frames.down.sql": {Data: []byte("DROP TABLE frames;")},
	})

	if _, err := db.MigrateDown(ctx); err == nil {
		t.Error("MigrateDown() error = nil, want unknown applied migration")
	}
	if !tableExists(t, db, "frames") {
		t.Error("frames dropped while a newer migration is applied")
	}

	states, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(states) != 2 || states[1].Name != "feed_values" || !states[1].Applied {
		t.Errorf("MigrationStatus() = %+v, want feed_values listed from the database", states)
	}
}

// =============================================================================
// File loading
// =============================================================================

func TestLoadMigrations(t *testing.T) {
	tests := []struct {
		name     string
		fsys     fstest.MapFS
		want     []string
		wantDown []bool
		wantErr  bool
	}{
		{
			name: "pairs up and down",
			fsys: fstest.MapFS{
				"20261002_000000_b.up.sql":   {Data: []byte("b")},
				"20261001_000000_a.up.sql":   {Data: []byte("a")},
				"20261001_000000_a.down.sql": {Data: []byte("-a")},
			},
			want:     []string{"20261001_000000", "20261002_000000"},
			wantDown: []bool{true, false},
		},
		{
			name: "ignores other files",
			fsys: fstest.MapFS{
				"README.md":                  {Data: []byte("notes")},
				"embed.go":                   {Data: []byte("package migrations")},
				"20261001_000000_a.sql":      {Data: []byte("no direction")},
				"2026_a.up.sql":              {Data: []byte("bad version")},
				"20261001_000000_a.up.sql":   {Data: []byte("a")},
				"20261001_000000_a.down.sql": {Data: []byte("-a")},
			},
			want:     []string{"20261001_000000"},
			wantDown: []bool{true},
		},
		{
			name: "down without up",
			fsys: fstest.MapFS{
				"20261001_000000_a.down.sql": {Data: []byte("-a")},
			},
			wantErr: true,
		},
		{
			name: "empty",
			fsys: fstest.MapFS{},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := loadMigrations(tt.fsys)
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadMigrations() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("loadMigrations() = %d migrations, want %d", len(got), len(tt.want))
			}
			for i, m := range got {
				if m.Version != tt.want[i] {
					t.Errorf("migrations[%d].Version = %s, want %s", i, m.Version, tt.want[i])
				}
				if hasDown := m.DownSQL != ""; hasDown != tt.wantDown[i] {
					t.Errorf("migrations[%d] has down = %v, want %v", i, hasDown, tt.wantDown[i])
				}
			}
		})
	}
}

func TestLoadMigrations_BridgeSchema(t *testing.T) {
	got, err := loadMigrations(repoSchema)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("loadMigrations() = %d migrations, want 2", len(got))
	}
	for _, m := range got {
		if m.UpSQL == "" || m.DownSQL == "" {
			t.Errorf("%s_%s: up or down SQL missing", m.Version, m.Name)
		}
	}
	if got[0].Name != "frames" || got[1].Name != "feed_values" {
		t.Errorf("names = %s, %s; want frames, feed_values", got[0].Name, got[1].Name)
	}
}
