package db

import (
	"context"
	"database/sql"
	"os"
	"testing"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres test")
	}
	dbx, err := Connect(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { dbx.Close() })
	return dbx
}

func cleanDatabase(t *testing.T, dbx *sql.DB) {
	t.Helper()
	for _, stmt := range []string{
		`DROP TABLE IF EXISTS announcement_state`,
		`DROP TABLE IF EXISTS schema_migrations`,
	} {
		if _, err := dbx.Exec(stmt); err != nil {
			t.Fatalf("clean: %v", err)
		}
	}
}

func TestRunMigrations(t *testing.T) {
	dbx := openTestDB(t)
	cleanDatabase(t, dbx)

	if err := RunMigrations(dbx); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	var exists bool
	if err := dbx.QueryRow(`SELECT EXISTS (
		SELECT FROM information_schema.tables WHERE table_name = 'announcement_state'
	)`).Scan(&exists); err != nil {
		t.Fatalf("check table: %v", err)
	}
	if !exists {
		t.Fatal("announcement_state does not exist after migration")
	}

	version, dirty, err := GetMigrationVersion(dbx)
	if err != nil {
		t.Fatalf("GetMigrationVersion() error = %v", err)
	}
	if dirty || version < 1 {
		t.Errorf("version = %d dirty = %v", version, dirty)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dbx := openTestDB(t)
	cleanDatabase(t, dbx)

	for i := 0; i < 3; i++ {
		if err := RunMigrations(dbx); err != nil {
			t.Fatalf("RunMigrations() run %d error = %v", i+1, err)
		}
	}
}

func TestMigrateDown(t *testing.T) {
	dbx := openTestDB(t)
	cleanDatabase(t, dbx)

	if err := RunMigrations(dbx); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	if err := MigrateDown(dbx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	version, _, err := GetMigrationVersion(dbx)
	if err != nil {
		t.Fatalf("GetMigrationVersion() error = %v", err)
	}
	if version != 0 {
		t.Errorf("version after rollback = %d, want 0", version)
	}
}
