package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagarc03/stowdrive"
	"github.com/sagarc03/stowdrive/database/badger"
	"github.com/sagarc03/stowdrive/database/postgres"
	"github.com/sagarc03/stowdrive/database/sqlite"

	_ "modernc.org/sqlite" // SQLite driver
)

// Config holds the configuration for connecting to a share backend.
type Config struct {
	// Type specifies the backend: "sqlite", "postgres" or "badger"
	Type string `mapstructure:"type" validate:"required,oneof=sqlite postgres badger"`
	// DSN is the connection string, or a directory for badger
	DSN string `mapstructure:"dsn" validate:"required"`
	// Table is the name of the shares table. Ignored by badger.
	Table string `mapstructure:"table"`
}

// Connect opens the configured backend, prepares it and returns a
// ShareStore. The returned cleanup function closes the connection.
func Connect(ctx context.Context, cfg Config) (stowdrive.ShareStore, func(), error) {
	tables := stowdrive.Tables{Shares: cfg.Table}

	switch cfg.Type {
	case "sqlite":
		return connectSQLite(ctx, cfg.DSN, tables)
	case "postgres":
		return connectPostgres(ctx, cfg.DSN, tables)
	case "badger":
		return connectBadger(ctx, cfg.DSN)
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

func connectSQLite(ctx context.Context, dsn string, tables stowdrive.Tables) (stowdrive.ShareStore, func(), error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}

	// every connection to :memory: is a separate database
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err = sqlite.Migrate(ctx, db, tables); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	if err = sqlite.ValidateSchema(ctx, db, tables); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("validate sqlite schema: %w", err)
	}

	repo, err := sqlite.NewRepo(db, tables)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("create sqlite repo: %w", err)
	}

	cleanup := func() {
		_ = db.Close()
	}

	return repo, cleanup, nil
}

func connectPostgres(ctx context.Context, dsn string, tables stowdrive.Tables) (stowdrive.ShareStore, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err = postgres.Migrate(ctx, pool, tables); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate postgres: %w", err)
	}

	if err = postgres.ValidateSchema(ctx, pool, tables); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("validate postgres schema: %w", err)
	}

	repo, err := postgres.NewRepo(pool, tables)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("create postgres repo: %w", err)
	}

	return repo, pool.Close, nil
}

func connectBadger(ctx context.Context, path string) (stowdrive.ShareStore, func(), error) {
	if path == "" {
		return nil, nil, fmt.Errorf("connect badger: empty path")
	}

	store, err := badger.Open(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("connect badger: %w", err)
	}

	cleanup := func() {
		_ = store.Close()
	}

	return store, cleanup, nil
}

type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type collector interface {
	RunGC() error
}

// Maintain removes expired shares from stores that keep them until asked,
// and compacts stores that evict on their own. It returns how many shares
// were purged.
func Maintain(ctx context.Context, store stowdrive.ShareStore) (int64, error) {
	switch s := store.(type) {
	case purger:
		n, err := s.PurgeExpired(ctx)
		if err != nil {
			return 0, fmt.Errorf("maintain: %w", err)
		}
		return n, nil
	case collector:
		if err := s.RunGC(); err != nil {
			return 0, fmt.Errorf("maintain: %w", err)
		}
	}
	return 0, nil
}
