// Package database provides SQLite storage for the discovery service.
//
// The database holds two tables: the operator-maintained registry of
// known devices (identities the engine must never announce) and the
// discovery inbox where newly seen devices wait for approval.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive-only. Each NNN_name.up.sql file may carry a
// matching NNN_name.down.sql used by MigrateDown during development.
package database
