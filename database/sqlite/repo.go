// Package sqlite stores public shares in a SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sagarc03/stowdrive"
)

// Repo implements stowdrive.ShareStore. Expired rows stay in the table until
// PurgeExpired runs but are never returned.
type Repo struct {
	db        *sql.DB
	tableName string
}

func NewRepo(db *sql.DB, tables stowdrive.Tables) (*Repo, error) {
	if err := tables.Validate(); err != nil {
		return nil, fmt.Errorf("new repo: %w", err)
	}

	return &Repo{db: db, tableName: quoteIdentifier(tables.Shares)}, nil
}

// Ping verifies database connectivity
func (r *Repo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repo) Get(ctx context.Context, sharekey string) (stowdrive.ShareObject, error) {
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`SELECT share FROM %s
		WHERE sharekey = ? AND (expires_at IS NULL OR expires_at > ?)`, r.tableName)

	var payload string
	err := r.db.QueryRowContext(ctx, query, sharekey, time.Now().Unix()).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return stowdrive.ShareObject{}, stowdrive.ErrNotFound
		}
		return stowdrive.ShareObject{}, fmt.Errorf("get: %w", err)
	}

	var share stowdrive.ShareObject
	if err := json.Unmarshal([]byte(payload), &share); err != nil {
		return stowdrive.ShareObject{}, fmt.Errorf("get: decode share: %w", err)
	}

	return share, nil
}

func (r *Repo) Put(ctx context.Context, sharekey string, share stowdrive.ShareObject) error {
	payload, err := json.Marshal(share)
	if err != nil {
		return fmt.Errorf("put: encode share: %w", err)
	}

	var expiresAt sql.NullInt64
	if share.Expiration > 0 {
		expiresAt = sql.NullInt64{Int64: share.Expiration, Valid: true}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`INSERT INTO %s (sharekey, share, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (sharekey) DO UPDATE
		SET share = excluded.share,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`, r.tableName)

	if _, err := r.db.ExecContext(ctx, query, sharekey, string(payload), expiresAt, now, now); err != nil {
		return fmt.Errorf("put: %w", err)
	}

	return nil
}

func (r *Repo) Delete(ctx context.Context, sharekey string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE sharekey = ?`, r.tableName) //nolint:gosec // table name is validated

	result, err := r.db.ExecContext(ctx, query, sharekey)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete: rows affected: %w", err)
	}
	if n == 0 {
		return stowdrive.ErrNotFound
	}

	return nil
}

// List returns unexpired shares whose sharekey starts with prefix, ordered
// by sharekey.
func (r *Repo) List(ctx context.Context, prefix string) ([]stowdrive.ShareRecord, error) {
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`SELECT sharekey, share FROM %s
		WHERE sharekey LIKE ? ESCAPE '\' AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY sharekey`, r.tableName)

	rows, err := r.db.QueryContext(ctx, query, stowdrive.EscapeLikePattern(prefix)+"%", time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []stowdrive.ShareRecord{}
	for rows.Next() {
		var rec stowdrive.ShareRecord
		var payload string
		if err := rows.Scan(&rec.ShareKey, &payload); err != nil {
			return nil, fmt.Errorf("list: scan: %w", err)
		}

		// LIKE is case-insensitive for ASCII in SQLite.
		if !strings.HasPrefix(rec.ShareKey, prefix) {
			continue
		}

		if err := json.Unmarshal([]byte(payload), &rec.Share); err != nil {
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
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= ?`, r.tableName)

	result, err := r.db.ExecContext(ctx, query, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired: rows affected: %w", err)
	}

	return n, nil
}
