// Package database provides SQLite connectivity for keygate.
//
// The store holds user accounts and the audit trail. Everything else the
// service tracks (credentials, presence, key grants, the encrypted blob and
// the kill switch) is volatile and lives in memory.
//
// Connections use WAL mode and a busy timeout, a single open connection and
// 0600 file permissions. All queries use ? placeholders.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a default,
// and every .up.sql should ship with a .down.sql.
package database
