// Package database connects to the backends that hold public shares.
//
// # Supported Backends
//
//   - PostgreSQL: shares in a JSONB table through a pgx connection pool
//   - SQLite: shares in a single table, suitable for single-node deployments
//   - Badger: an embedded key-value store that expires shares natively
//
// # Usage
//
//	cfg := database.Config{
//	    Type:  "sqlite",
//	    DSN:   "stowdrive.db",
//	    Table: "stowdrive_shares",
//	}
//
//	shares, cleanup, err := database.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cleanup()
//
// For the SQL backends Connect runs migrations and validates the schema
// before returning. SQL backends keep expired rows until Maintain purges
// them; reads never return an expired share.
package database
