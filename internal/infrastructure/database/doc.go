// Package database provides SQLite connectivity for EquipWatch Core.
//
// This package manages:
//   - Database connection with WAL mode for concurrent reads
//   - Schema migrations embedded from the migrations package
//   - Connection lifecycle and health checks
//
// The users, sessions and audit_logs tables are created by migrations; the
// repositories in internal/auth and internal/audit take the embedded *sql.DB.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is restricted to 0600 because it stores password hashes
//   - Session tokens are stored only as SHA-256 digests
//
// Usage:
//
//	db, err := database.Open(database.FromConfig(cfg.Database))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are YYYYMMDD_HHMMSS_description.up.sql files with an optional
// matching .down.sql, applied in version order, each in its own transaction.
package database
