// Package database provides SQLite connectivity for Sphere Bridge.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Forward-only schema migrations loaded from an embedded filesystem
//   - Connection lifecycle and health checks
//
// The bridge keeps very little on disk: the presence journal that lets
// UserPresence survive restarts. Cloud credentials are never written here.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
