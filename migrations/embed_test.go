package migrations_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nerrad567/gray-logic-discovery/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-discovery/migrations"
)

func TestMigrationsApplyAndRollBack(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "discovery.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	status, err := db.Status(ctx, migrations.FS)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(status.Pending) != 0 {
		t.Errorf("Pending = %v, want none", status.Pending)
	}
	for _, table := range []string{"known_devices", "discovery_inbox", "audit_log"} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s: %v", table, err)
		}
	}

	for range status.Applied {
		if err := db.MigrateDown(ctx, migrations.FS); err != nil {
			t.Fatalf("MigrateDown() error = %v", err)
		}
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() after rollback error = %v", err)
	}
}
