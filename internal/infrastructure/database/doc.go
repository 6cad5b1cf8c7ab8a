// Package database provides SQLite connectivity for homebus.
//
// It is used by the sqlite registry backend. This package manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Forward-only schema migrations embedded in the binary
//   - A single-connection pool, matching SQLite's single writer
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files live in the top-level migrations directory and are named
// YYYYMMDD_HHMMSS_description.up.sql.
package database
