package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// Cache is a durable last-write-wins key/value store. Keys partition one
// global namespace; there is no expiry.
type Cache struct {
	q execer
}

// Entry is a cached value with the time it was written.
type Entry struct {
	Key       string
	Value     []byte
	WrittenAt time.Time
}

// Save stores value under key, replacing any previous value.
func (c *Cache) Save(ctx context.Context, key string, value []byte) error {
	_, err := c.q.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, written_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, written_at = excluded.written_at`,
		key, value, time.Now().UnixMilli(),
	)
	if err != nil {
		return storageErr("save cache entry", err)
	}
	return nil
}

// Load returns the entry for key. ok is false if the key is absent.
func (c *Cache) Load(ctx context.Context, key string) (Entry, bool, error) {
	var (
		e       = Entry{Key: key}
		written int64
	)
	err := c.q.QueryRowContext(ctx,
		"SELECT value, written_at FROM cache_entries WHERE key = ?", key,
	).Scan(&e.Value, &written)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, storageErr("load cache entry", err)
	}
	e.WrittenAt = time.UnixMilli(written)
	return e, true, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if _, err := c.q.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		return storageErr("delete cache entry", err)
	}
	return nil
}

// Keys lists keys starting with prefix, sorted.
func (c *Cache) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := c.q.QueryContext(ctx,
		"SELECT key FROM cache_entries WHERE substr(key, 1, ?) = ? ORDER BY key",
		len(prefix), prefix,
	)
	if err != nil {
		return nil, storageErr("list cache keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, storageErr("scan cache key", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate cache keys", err)
	}
	return keys, nil
}

// SaveJSON marshals v and stores it under key.
func (c *Cache) SaveJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Save(ctx, key, data)
}

// LoadJSON unmarshals the value for key into v. ok is false if absent.
func (c *Cache) LoadJSON(ctx context.Context, key string, v any) (bool, error) {
	e, ok, err := c.Load(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(e.Value, v); err != nil {
		return false, storageErr("decode cache entry "+key, err)
	}
	return true, nil
}
