package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/onnwee/streambot/db"
)

// SetupTestDB connects to TEST_PG_DSN, runs migrations and empties the
// announcement_state table. It skips the test if TEST_PG_DSN is not set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := db.Connect(context.Background(), dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.RunMigrations(database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	if _, err := database.Exec(`DELETE FROM announcement_state`); err != nil {
		database.Close()
		t.Fatalf("failed to reset announcement_state: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}
