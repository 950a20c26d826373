// Package database provides SQLite connectivity for the controller's
// local command history store.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - In-code schema migrations, applied one transaction each
//   - Connection lifecycle and a health check
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, history.Migrations()); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive-only: new columns must be nullable or carry
// a default, and columns are never dropped or renamed. Packages that
// own tables export their migration list; Migrate skips versions that
// are already recorded in schema_migrations.
package database
