// Package database provides SQLite connectivity for the BSB-LAN bridge.
//
// The database holds the local object store: one row per tracked parameter,
// info field and grouping channel, plus the last known state of each.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive-only: new columns must be NULLABLE or carry a
// DEFAULT so an older binary can still read the file.
package database
