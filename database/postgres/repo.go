// Package postgres stores public shares in a PostgreSQL table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sagarc03/stowdrive"
)

// Repo implements stowdrive.ShareStore on a pgx pool.
type Repo struct {
	pool      *pgxpool.Pool
	tableName string
}

func NewRepo(pool *pgxpool.Pool, tables stowdrive.Tables) (*Repo, error) {
	if err := tables.Validate(); err != nil {
		return nil, fmt.Errorf("new repo: %w", err)
	}

	return &Repo{pool: pool, tableName: pgx.Identifier{tables.Shares}.Sanitize()}, nil
}

// Ping verifies database connectivity
func (r *Repo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repo) Get(ctx context.Context, sharekey string) (stowdrive.ShareObject, error) {
	query := fmt.Sprintf(`
		SELECT share
		FROM %s
		WHERE sharekey = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`, r.tableName)

	var payload []byte
	err := r.pool.QueryRow(ctx, query, sharekey).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return stowdrive.ShareObject{}, stowdrive.ErrNotFound
		}
		return stowdrive.ShareObject{}, fmt.Errorf("get: %w", err)
	}

	var share stowdrive.ShareObject
	if err := json.Unmarshal(payload, &share); err != nil {
		return stowdrive.ShareObject{}, fmt.Errorf("get: decode share: %w", err)
	}

	return share, nil
}

func (r *Repo) Put(ctx context.Context, sharekey string, share stowdrive.ShareObject) error {
	payload, err := json.Marshal(share)
	if err != nil {
		return fmt.Errorf("put: encode share: %w", err)
	}

	var expiresAt *time.Time
	if share.Expiration > 0 {
		t := time.Unix(share.Expiration, 0).UTC()
		expiresAt = &t
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (sharekey, share, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (sharekey) DO UPDATE
		SET share = EXCLUDED.share,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
	`, r.tableName)

	if _, err := r.pool.Exec(ctx, query, sharekey, string(payload), expiresAt); err != nil {
		return fmt.Errorf("put: %w", err)
	}

	return nil
}

func (r *Repo) Delete(ctx context.Context, sharekey string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE sharekey = $1`, r.tableName)

	tag, err := r.pool.Exec(ctx, query, sharekey)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stowdrive.ErrNotFound
	}

	return nil
}

// List returns unexpired shares whose sharekey starts with prefix, in byte
// order of sharekey.
func (r *Repo) List(ctx context.Context, prefix string) ([]stowdrive.ShareRecord, error) {
	query := fmt.Sprintf(`
		SELECT sharekey, share
		FROM %s
		WHERE sharekey LIKE $1 ESCAPE '\' AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY sharekey COLLATE "C"
	`, r.tableName)

	rows, err := r.pool.Query(ctx, query, stowdrive.EscapeLikePattern(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	records := []stowdrive.ShareRecord{}
	for rows.Next() {
		var rec stowdrive.ShareRecord
		var payload []byte
		if err := rows.Scan(&rec.ShareKey, &payload); err != nil {
			return nil, fmt.Errorf("list: scan: %w", err)
		}
		if err := json.Unmarshal(payload, &rec.Share); err != nil {
			return nil, fmt.Errorf("list: decode share %s: %w", rec.ShareKey, err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list: rows: %w", err)
	}

	return records, nil
}

// PurgeExpired deletes expired shares and returns how many were removed.
func (r *Repo) PurgeExpired(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= NOW()`, r.tableName)

	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}

	return tag.RowsAffected(), nil
}
