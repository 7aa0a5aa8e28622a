package sqlite_test

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"math"
	"math/big"
	"testing"

	"github.com/sagarc03/stowdrive"
	"github.com/sagarc03/stowdrive/database/sqlite"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func getRandomString(t *testing.T) string {
	t.Helper()
	n, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	require.NoError(t, err, "random string")
	return fmt.Sprintf("test%x", n.Int64())
}

// openTestDB opens a private in-memory database. A single connection keeps
// every query on the same in-memory instance.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err, "failed to open sqlite")
	db.SetMaxOpenConns(1)

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// setupTestRepo creates a migrated repo with a unique table name.
func setupTestRepo(t *testing.T) (*sqlite.Repo, *sql.DB, stowdrive.Tables) {
	t.Helper()

	ctx := context.Background()
	db := openTestDB(t)
	tables := stowdrive.Tables{Shares: fmt.Sprintf("shares_%s", getRandomString(t))}

	require.NoError(t, sqlite.Migrate(ctx, db, tables), "failed to migrate")

	repo, err := sqlite.NewRepo(db, tables)
	require.NoError(t, err, "failed to create repo")

	return repo, db, tables
}
