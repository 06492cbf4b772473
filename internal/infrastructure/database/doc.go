// Package database provides SQLite connectivity for the EcoZone auth service.
//
// This package manages:
//   - Connections with WAL mode, foreign keys and a busy timeout
//   - Forward/backward schema migrations read from an fs.FS
//   - Fixed-width UTC timestamp helpers shared by every repository
//   - A transaction helper
//
// The pool is capped at a single connection. SQLite allows one writer at a
// time, and the repositories rely on that serialisation for their
// conditional UPDATE statements.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
