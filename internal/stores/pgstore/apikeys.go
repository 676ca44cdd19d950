package pgstore

import (
	"context"
	"time"

	"github.com/MrEthical07/taskauth/apikey"
	"github.com/jackc/pgx/v5"
)

const keyColumns = `id::text, name, key_hash, prefix, permissions, rate_limit, is_active, expires_at,
last_used, usage_count, created_by, allowed_ips, metadata, created_at, updated_at`

func scanKey(row pgx.Row) (*apikey.Key, error) {
	var k apikey.Key
	err := row.Scan(&k.ID, &k.Name, &k.Hash, &k.Prefix, &k.Permissions, &k.RateLimit, &k.Active, &k.ExpiresAt,
		&k.LastUsed, &k.UsageCount, &k.CreatedBy, &k.AllowedIPs, &k.Metadata, &k.CreatedAt, &k.UpdatedAt)
	if noRows(err) {
		return nil, apikey.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// CreateKey inserts k. A taken prefix returns apikey.ErrPrefixTaken.
func (s *Store) CreateKey(ctx context.Context, k *apikey.Key) error {
	meta := k.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	const q = `
INSERT INTO api_keys (id, name, key_hash, prefix, permissions, rate_limit, is_active, expires_at,
usage_count, created_by, allowed_ips, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10, $11, $12, $13)`
	_, err := s.pool.Exec(ctx, q,
		k.ID, k.Name, k.Hash, k.Prefix, nonNil(k.Permissions), k.RateLimit, k.Active, k.ExpiresAt,
		k.CreatedBy, nonNil(k.AllowedIPs), meta, k.CreatedAt, k.UpdatedAt)
	if isUniqueViolation(err) {
		return apikey.ErrPrefixTaken
	}
	return err
}

// KeyByPrefix returns the key with prefix.
func (s *Store) KeyByPrefix(ctx context.Context, prefix string) (*apikey.Key, error) {
	return scanKey(s.pool.QueryRow(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE prefix = $1`, prefix))
}

// KeyByID returns the key with id.
func (s *Store) KeyByID(ctx context.Context, id string) (*apikey.Key, error) {
	return scanKey(s.pool.QueryRow(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE id::text = $1`, id))
}

// RecordUse increments the usage count in place.
func (s *Store) RecordUse(ctx context.Context, id string, now time.Time) error {
	const q = `UPDATE api_keys SET usage_count = usage_count + 1, last_used = $2, updated_at = $2 WHERE id::text = $1`
	tag, err := s.pool.Exec(ctx, q, id, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apikey.ErrNotFound
	}
	return nil
}

// DeactivateKey clears the active flag and merges meta into the metadata.
func (s *Store) DeactivateKey(ctx context.Context, id string, meta map[string]string, now time.Time) error {
	if meta == nil {
		meta = map[string]string{}
	}
	const q = `UPDATE api_keys SET is_active = FALSE, metadata = metadata || $2::jsonb, updated_at = $3 WHERE id::text = $1`
	tag, err := s.pool.Exec(ctx, q, id, meta, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apikey.ErrNotFound
	}
	return nil
}

// ListKeys returns keys newest first, filtered by creator when owner is set.
func (s *Store) ListKeys(ctx context.Context, owner string) ([]apikey.Key, error) {
	const q = `SELECT ` + keyColumns + ` FROM api_keys WHERE ($1 = '' OR created_by = $1) ORDER BY created_at DESC, id`
	rows, err := s.pool.Query(ctx, q, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []apikey.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *k)
	}
	return out, rows.Err()
}

// DeactivateExpired marks active keys whose expiry has passed inactive.
func (s *Store) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	const q = `UPDATE api_keys SET is_active = FALSE, updated_at = $1 WHERE is_active AND expires_at IS NOT NULL AND expires_at <= $1`
	tag, err := s.pool.Exec(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
