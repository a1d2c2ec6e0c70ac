// Package database provides SQLite connectivity for Tailgate Core.
//
// The database holds the config library, the config execution log and the
// persisted state transition log.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Embedded, versioned schema migrations
//   - Connection lifecycle and health checks
//
// Usage:
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files live in the top-level migrations package and are named
// YYYYMMDD_HHMMSS_name.up.sql / .down.sql. Every migration ships both.
package database
