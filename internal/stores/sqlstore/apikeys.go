package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/MrEthical07/taskauth/apikey"
)

type keyRow struct {
	ID          string        `db:"id"`
	Name        string        `db:"name"`
	Hash        string        `db:"key_hash"`
	Prefix      string        `db:"prefix"`
	Permissions string        `db:"permissions"`
	RateLimit   int           `db:"rate_limit"`
	IsActive    bool          `db:"is_active"`
	ExpiresAt   sql.NullInt64 `db:"expires_at"`
	LastUsed    sql.NullInt64 `db:"last_used"`
	UsageCount  int64         `db:"usage_count"`
	CreatedBy   string        `db:"created_by"`
	AllowedIPs  string        `db:"allowed_ips"`
	Metadata    string        `db:"metadata"`
	CreatedAt   int64         `db:"created_at"`
	UpdatedAt   int64         `db:"updated_at"`
}

func (r keyRow) toKey() (*apikey.Key, error) {
	k := &apikey.Key{
		ID:         r.ID,
		Name:       r.Name,
		Prefix:     r.Prefix,
		Hash:       r.Hash,
		RateLimit:  r.RateLimit,
		Active:     r.IsActive,
		ExpiresAt:  ptrMillis(r.ExpiresAt),
		LastUsed:   ptrMillis(r.LastUsed),
		UsageCount: r.UsageCount,
		CreatedBy:  r.CreatedBy,
		CreatedAt:  fromMillis(r.CreatedAt),
		UpdatedAt:  fromMillis(r.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(r.Permissions), &k.Permissions); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(r.AllowedIPs), &k.AllowedIPs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(r.Metadata), &k.Metadata); err != nil {
		return nil, err
	}
	return k, nil
}

func jsonText(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

const keyColumns = `id, name, key_hash, prefix, permissions, rate_limit, is_active, expires_at,
	last_used, usage_count, created_by, allowed_ips, metadata, created_at, updated_at`

// CreateKey inserts k. A taken prefix returns apikey.ErrPrefixTaken.
func (s *Store) CreateKey(ctx context.Context, k *apikey.Key) error {
	perms, err := jsonText(k.Permissions, "[]")
	if err != nil {
		return err
	}
	ips, err := jsonText(k.AllowedIPs, "[]")
	if err != nil {
		return err
	}
	meta, err := jsonText(k.Metadata, "{}")
	if err != nil {
		return err
	}
	const q = `INSERT INTO api_keys (` + keyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, 0, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		k.ID, k.Name, k.Hash, k.Prefix, perms, k.RateLimit, k.Active, nullMillis(k.ExpiresAt),
		k.CreatedBy, ips, meta, toMillis(k.CreatedAt), toMillis(k.UpdatedAt))
	if isUniqueViolation(err) {
		return apikey.ErrPrefixTaken
	}
	return err
}

func (s *Store) getKey(ctx context.Context, where string, arg any) (*apikey.Key, error) {
	var row keyRow
	err := s.db.GetContext(ctx, &row, `SELECT `+keyColumns+` FROM api_keys WHERE `+where, arg)
	if noRows(err) {
		return nil, apikey.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toKey()
}

// KeyByPrefix returns the key with prefix.
func (s *Store) KeyByPrefix(ctx context.Context, prefix string) (*apikey.Key, error) {
	return s.getKey(ctx, `prefix = ?`, prefix)
}

// KeyByID returns the key with id.
func (s *Store) KeyByID(ctx context.Context, id string) (*apikey.Key, error) {
	return s.getKey(ctx, `id = ?`, id)
}

// RecordUse increments the usage count in place.
func (s *Store) RecordUse(ctx context.Context, id string, now time.Time) error {
	const q = `UPDATE api_keys SET usage_count = usage_count + 1, last_used = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, toMillis(now), toMillis(now), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apikey.ErrNotFound
	}
	return nil
}

// DeactivateKey clears the active flag and merges meta into the metadata.
func (s *Store) DeactivateKey(ctx context.Context, id string, meta map[string]string, now time.Time) error {
	patch, err := jsonText(meta, "{}")
	if err != nil {
		return err
	}
	const q = `UPDATE api_keys SET is_active = 0, metadata = json_patch(metadata, ?), updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, patch, toMillis(now), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apikey.ErrNotFound
	}
	return nil
}

// ListKeys returns keys newest first, filtered by creator when owner is set.
func (s *Store) ListKeys(ctx context.Context, owner string) ([]apikey.Key, error) {
	q := `SELECT ` + keyColumns + ` FROM api_keys`
	var args []any
	if owner != "" {
		q += ` WHERE created_by = ?`
		args = append(args, owner)
	}
	q += ` ORDER BY created_at DESC, id`

	var rows []keyRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]apikey.Key, 0, len(rows))
	for _, r := range rows {
		k, err := r.toKey()
		if err != nil {
			return nil, err
		}
		out = append(out, *k)
	}
	return out, nil
}

// DeactivateExpired marks active keys whose expiry has passed inactive.
func (s *Store) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	const q = `UPDATE api_keys SET is_active = 0, updated_at = ?
		WHERE is_active = 1 AND expires_at IS NOT NULL AND expires_at <= ?`
	res, err := s.db.ExecContext(ctx, q, toMillis(now), toMillis(now))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
