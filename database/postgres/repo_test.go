package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sagarc03/stowdrive"
	"github.com/sagarc03/stowdrive/database/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate_Schema(t *testing.T) {
	ctx := context.Background()
	_, pool, tables := setupTestRepo(t)

	require.NoError(t, postgres.ValidateSchema(ctx, pool, tables))
	require.NoError(t, postgres.Migrate(ctx, pool, tables), "migrations are idempotent")

	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM pg_indexes
			WHERE tablename = $1 AND indexname = $2
		)
	`, tables.Shares, fmt.Sprintf("idx_%s_expires_at", tables.Shares)).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists, "expected expires_at index")
}

func TestValidateSchema_Missing(t *testing.T) {
	ctx := context.Background()
	pool := getSharedTestDatabase(t)

	err := postgres.ValidateSchema(ctx, pool, stowdrive.Tables{Shares: "shares_" + getRandomString(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestDropTables(t *testing.T) {
	ctx := context.Background()
	_, pool, tables := setupTestRepo(t)

	require.NoError(t, postgres.DropTables(ctx, pool, tables))
	assert.Error(t, postgres.ValidateSchema(ctx, pool, tables))
}

func TestRepo_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := setupTestRepo(t)

	share := stowdrive.ShareObject{
		Key:         "photos/",
		Expiration:  time.Now().Add(time.Hour).Unix(),
		RefererList: []string{"https://example.com/*"},
		RefererMode: stowdrive.RefererBlacklist,
		Auth:        "u:p",
		CORS:        true,
	}
	require.NoError(t, repo.Put(ctx, "album", share))

	got, err := repo.Get(ctx, "album")
	require.NoError(t, err)
	assert.Equal(t, share, got)

	share.Desc = "updated"
	require.NoError(t, repo.Put(ctx, "album", share))
	got, err = repo.Get(ctx, "album")
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Desc)

	require.NoError(t, repo.Delete(ctx, "album"))
	_, err = repo.Get(ctx, "album")
	assert.ErrorIs(t, err, stowdrive.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "album"), stowdrive.ErrNotFound)
}

func TestRepo_ExpiredAndPurge(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := setupTestRepo(t)

	require.NoError(t, repo.Put(ctx, "gone", stowdrive.ShareObject{Key: "a", Expiration: time.Now().Add(-time.Hour).Unix()}))
	require.NoError(t, repo.Put(ctx, "kept", stowdrive.ShareObject{Key: "b"}))

	_, err := repo.Get(ctx, "gone")
	assert.ErrorIs(t, err, stowdrive.ErrNotFound)

	records, err := repo.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "kept", records[0].ShareKey)

	n, err := repo.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRepo_ListPrefix(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := setupTestRepo(t)

	for _, k := range []string{"team-a", "team-b", "Team-c", "team_x", "other"} {
		require.NoError(t, repo.Put(ctx, k, stowdrive.ShareObject{Key: k}))
	}

	tests := []struct {
		prefix string
		want   []string
	}{
		{prefix: "", want: []string{"Team-c", "other", "team-a", "team-b", "team_x"}},
		{prefix: "team", want: []string{"team-a", "team-b", "team_x"}},
		{prefix: "team_", want: []string{"team_x"}},
		{prefix: "nothing", want: []string{}},
	}

	for _, tt := range tests {
		t.Run("prefix="+tt.prefix, func(t *testing.T) {
			records, err := repo.List(ctx, tt.prefix)
			require.NoError(t, err)

			keys := make([]string, 0, len(records))
			for _, rec := range records {
				keys = append(keys, rec.ShareKey)
			}
			assert.Equal(t, tt.want, keys)
		})
	}
}
