// Package database provides SQLite connectivity for the registration ledger.
//
// This package manages:
//   - Database connection with WAL mode
//   - Forward-only schema migrations from an fs.FS
//   - Connection lifecycle
//
// All queries use parameterised statements.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
