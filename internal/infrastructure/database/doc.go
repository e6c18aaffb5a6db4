// Package database provides SQLite connectivity for the beacon fence service.
//
// This package manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - Applying embedded schema migrations in version order
//   - Health checks used by the HTTP API
//
// The schema is deliberately small: a single kv_store table backs the
// beacon.SQLiteBackend, so definitions, scanner settings and the dispatcher
// handle all share one transactional key space.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql.
package database
